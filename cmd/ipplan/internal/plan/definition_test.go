package plan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const validInput = `
subnet:
  net1:
    cidr: 10.10.0.0/16
  main_net:
    from: net1
    prefixlen: 24
vlan_pool:
  pool1:
    start: 100
    end: 1000
schema:
  nf:
    - name: linknet
      prefixlen: 29
      label: linknet
    - name: oam
      size: 10
      label: oam
      metadata:
        zone: mgmt
ipam:
  nf1:
    schema: nf
    subnet:
      linknet: main_net
      oam: main_net
    vlan_pool:
      linknet: pool1
    metadata:
      tenant: blue
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(validInput))
	require.NoError(t, err)

	require.Len(t, def.Subnets, 2)
	require.Equal(t, "net1", def.Subnets[0].Name)
	require.Equal(t, "main_net", def.Subnets[1].Name)
	require.Equal(t, "net1", def.Subnets[1].From)
	require.Equal(t, 24, def.Subnets[1].PrefixLen)

	require.Len(t, def.Sections, 1)
	require.Equal(t, "nf1", def.Sections[0].Name)
	require.Equal(t, "nf", def.Sections[0].Schema)
	require.Equal(t, "pool1", def.Sections[0].VlanPools["linknet"])

	schema := def.Schemas["nf"]
	require.Len(t, schema, 2)
	require.Equal(t, "linknet", schema[0].Name)
	require.NotNil(t, schema[0].PrefixLen)
	require.Equal(t, 29, *schema[0].PrefixLen)
	require.NotNil(t, schema[1].Size)
	require.Equal(t, 10, *schema[1].Size)
}

func TestParseDefinitionSectionOrder(t *testing.T) {
	def, err := ParseDefinition([]byte(`
subnet:
  net1:
    cidr: 10.0.0.0/24
schema:
  nf:
    - name: a
      prefixlen: 29
      label: l
ipam:
  zulu:
    schema: nf
    subnet: {l: net1}
  alpha:
    schema: nf
    subnet: {l: net1}
  mike:
    schema: nf
    subnet: {l: net1}
`))
	require.NoError(t, err)

	var names []string
	for _, s := range def.Sections {
		names = append(names, s.Name)
	}
	require.Equal(t, []string{"zulu", "alpha", "mike"}, names)
}

func TestParseDefinitionSchemaAliasing(t *testing.T) {
	def, err := ParseDefinition([]byte(`
subnet:
  net1:
    cidr: 10.0.0.0/24
schema:
  base: &base
    - name: a
      prefixlen: 29
      label: l
  alias: *base
ipam:
  nf1:
    schema: alias
    subnet: {l: net1}
`))
	require.NoError(t, err)
	require.Equal(t, def.Schemas["base"], def.Schemas["alias"])
}

func TestDefinitionValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{
			name: "subnet with cidr and from",
			input: `
subnet:
  net1: {cidr: 10.0.0.0/24, from: other}
`,
			wantErr: `subnet "net1" must not combine cidr and from`,
		},
		{
			name: "subnet without cidr and from",
			input: `
subnet:
  net1: {}
`,
			wantErr: `subnet "net1" needs either a cidr or a from/prefixlen derivation`,
		},
		{
			name: "derived subnet without prefixlen",
			input: `
subnet:
  net1: {cidr: 10.0.0.0/16}
  net2: {from: net1}
`,
			wantErr: `subnet "net2" is derived from "net1" and needs a positive prefixlen`,
		},
		{
			name: "empty schema",
			input: `
schema:
  nf: []
`,
			wantErr: `schema "nf" has no slots`,
		},
		{
			name: "slot with prefixlen and size",
			input: `
schema:
  nf:
    - {name: a, prefixlen: 29, size: 3, label: l}
`,
			wantErr: `schema "nf" slot "a" must not combine prefixlen and size`,
		},
		{
			name: "slot without sizing",
			input: `
schema:
  nf:
    - {name: a, label: l}
`,
			wantErr: `schema "nf" slot "a" needs either a prefixlen or a size`,
		},
		{
			name: "slot with zero size",
			input: `
schema:
  nf:
    - {name: a, size: 0, label: l}
`,
			wantErr: `schema "nf" slot "a" requests a size of zero`,
		},
		{
			name: "from combined with prefixlen",
			input: `
schema:
  nf:
    - {name: a, size: 10, label: l}
    - {name: b, prefixlen: 29, from: a}
`,
			wantErr: `schema "nf" slot "b" must use size when carving from slot "a"`,
		},
		{
			name: "slot without label",
			input: `
schema:
  nf:
    - {name: a, size: 10}
`,
			wantErr: `schema "nf" slot "a" needs a label`,
		},
		{
			name: "from referencing a later slot",
			input: `
schema:
  nf:
    - {name: a, size: 1, from: b}
    - {name: b, size: 10, label: l}
`,
			wantErr: `schema "nf" slot "a" carves from undefined or later slot "b"`,
		},
		{
			name: "duplicate slot name",
			input: `
schema:
  nf:
    - {name: a, size: 10, label: l}
    - {name: a, size: 10, label: l}
`,
			wantErr: `schema "nf" contains slot "a" more than once`,
		},
		{
			name: "section with undefined schema",
			input: `
ipam:
  nf1:
    schema: nope
`,
			wantErr: `section "nf1" references undefined schema "nope"`,
		},
		{
			name: "subnet binding to undefined block",
			input: `
schema:
  nf:
    - {name: a, prefixlen: 29, label: l}
ipam:
  nf1:
    schema: nf
    subnet: {l: nope}
`,
			wantErr: `section "nf1" binds label "l" to undefined subnet "nope"`,
		},
		{
			name: "vlan binding to undefined pool",
			input: `
schema:
  nf:
    - {name: a, prefixlen: 29, label: l}
ipam:
  nf1:
    schema: nf
    vlan_pool: {l: nope}
`,
			wantErr: `section "nf1" binds label "l" to undefined vlan pool "nope"`,
		},
		{
			name: "ip_range binding to undefined section",
			input: `
schema:
  nf:
    - {name: a, size: 2, label: l}
ipam:
  nf1:
    schema: nf
    ip_range: {l: other.slot}
`,
			wantErr: `undefined section "other"`,
		},
		{
			name: "ip_range binding to undefined slot",
			input: `
subnet:
  net1: {cidr: 10.0.0.0/24}
schema:
  nf:
    - {name: a, prefixlen: 29, label: l}
ipam:
  nf0:
    schema: nf
    subnet: {l: net1}
  nf1:
    schema: nf
    ip_range: {l: nf0.nope}
`,
			wantErr: `schema "nf" has no slot "nope"`,
		},
		{
			name: "duplicate section",
			input: `
schema:
  nf:
    - {name: a, size: 2, label: l}
ipam:
  nf1:
    schema: nf
  nf1:
    schema: nf
`,
			wantErr: `duplicate ipam section "nf1"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.input))
			require.Error(t, err)
			require.True(t, IsDefinitionError(err), "expected a definition error, got %v", err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
