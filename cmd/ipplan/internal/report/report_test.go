package report

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go4.org/netipx"

	"github.com/ipam-tools/ipplan/cmd/ipplan/internal/plan"
)

func rng(from, to string) netipx.IPRange {
	return netipx.IPRangeFrom(netip.MustParseAddr(from), netip.MustParseAddr(to))
}

func testPlan() *plan.Plan {
	vlan := 100
	return &plan.Plan{
		Sections: []*plan.SectionPlan{
			{
				Name: "nf1",
				Slots: []*plan.AllocatedSlot{
					{
						Name:       "linknet",
						Kind:       plan.KindSubnet,
						Label:      "linknet",
						CIDR:       netip.MustParsePrefix("10.10.0.0/29"),
						Range:      rng("10.10.0.1", "10.10.0.6"),
						Gateway:    netip.MustParseAddr("10.10.0.6"),
						VLAN:       &vlan,
						Source:     "main_net",
						VLANSource: "pool1",
						Metadata:   map[string]interface{}{"zone": "mgmt", "nested": map[string]interface{}{"x": 1}},
					},
					{
						Name:     "spare",
						Kind:     plan.KindSubnet,
						Label:    "spare",
						CIDR:     netip.MustParsePrefix("10.10.0.8/29"),
						Range:    rng("10.10.0.9", "10.10.0.14"),
						Gateway:  netip.MustParseAddr("10.10.0.14"),
						Source:   "main_net",
						Metadata: map[string]interface{}{"reserved": true},
					},
					{
						Name:   "oam",
						Kind:   plan.KindIPRangeGlobal,
						Label:  "oam",
						CIDR:   netip.MustParsePrefix("10.10.1.0/24"),
						Range:  rng("10.10.1.1", "10.10.1.10"),
						Source: "other_net",
					},
				},
			},
		},
	}
}

func TestRenderUnsupportedFormat(t *testing.T) {
	_, err := Render(testPlan(), "xml")
	require.Error(t, err)
	require.Contains(t, err.Error(), `unsupported output format "xml"`)
}

func TestHuman(t *testing.T) {
	out, err := Render(testPlan(), "human")
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)

	require.Equal(t, []string{"NF", "NET", "CIDR", "IP_RANGE", "GW_IP", "VLAN", "SIZE"},
		strings.Fields(lines[0]))
	require.Regexp(t, `^-+$`, lines[1])

	require.Equal(t, []string{
		"nf1", "linknet", "10.10.0.0/29", "10.10.0.1-10.10.0.6", "10.10.0.6", "100", "6",
	}, strings.Fields(lines[2]))

	// ranges have no gateway of their own and no vlan
	require.Equal(t, []string{
		"nf1", "oam", "10.10.1.0/24", "10.10.1.1-10.10.1.10", "-", "-", "10",
	}, strings.Fields(lines[3]))

	// reserved slots occupy space but are not listed
	require.NotContains(t, out, "spare")

	// columns are aligned and lines carry no trailing padding
	require.Equal(t, strings.Index(lines[0], "NET"), strings.Index(lines[2], "linknet"))
	for _, line := range lines {
		require.Equal(t, strings.TrimRight(line, " "), line)
	}
}

func TestHumanLargeSize(t *testing.T) {
	p := &plan.Plan{
		Sections: []*plan.SectionPlan{
			{
				Name: "nf1",
				Slots: []*plan.AllocatedSlot{
					{
						Name:  "bulk",
						Kind:  plan.KindIPRangeGlobal,
						CIDR:  netip.MustParsePrefix("10.0.0.0/8"),
						Range: rng("10.0.0.1", "10.0.255.255"),
					},
				},
			},
		},
	}
	out := Human(p)
	require.Contains(t, out, "65,535")
}

func TestYAMLAnchors(t *testing.T) {
	out, err := Render(testPlan(), "yaml-anchors")
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	require.Equal(t, "ipam:", lines[0])

	want := []string{
		"- &nf1_linknet_vlan 100",
		"- &nf1_linknet_label linknet",
		"- &nf1_linknet_ip_range_start 10.10.0.1",
		"- &nf1_linknet_ip_range_end 10.10.0.6",
		"- &nf1_linknet_ip_range_str 10.10.0.1-10.10.0.6",
		"- &nf1_linknet_ip_range_size 6",
		"- &nf1_linknet_gateway 10.10.0.6",
		"- &nf1_linknet_cidr 10.10.0.0/29",
		"- &nf1_linknet_prefixlen 29",
		"- &nf1_linknet_netmask 255.255.255.248",
		"- &nf1_linknet_kind subnet",
		"- &nf1_linknet_metadata_zone mgmt",
	}
	require.Equal(t, want, lines[1:len(want)+1])

	// nested metadata cannot be anchored, reserved slots are hidden
	require.NotContains(t, out, "nested")
	require.NotContains(t, out, "spare")

	// slots without vlan, label metadata still emit their address fields
	require.Contains(t, out, "- &nf1_oam_ip_range_str 10.10.1.1-10.10.1.10")
	require.NotContains(t, out, "nf1_oam_vlan")
	require.NotContains(t, out, "nf1_oam_gateway")
}

func TestJSONRoundTrip(t *testing.T) {
	p := testPlan()
	out, err := Render(p, "json")
	require.NoError(t, err)

	// the json output doubles as the previous-plan input format
	got, err := plan.ParsePlan([]byte(out))
	require.NoError(t, err)
	require.Len(t, got.Sections, 1)

	slot := got.Section("nf1").Slot("linknet")
	require.NotNil(t, slot)
	require.Equal(t, netip.MustParsePrefix("10.10.0.0/29"), slot.CIDR)
	require.Equal(t, rng("10.10.0.1", "10.10.0.6"), slot.Range)
	require.Equal(t, 100, *slot.VLAN)

	// section order and slot order survive the indented rendering
	require.Equal(t, []string{"linknet", "spare", "oam"}, []string{
		got.Sections[0].Slots[0].Name,
		got.Sections[0].Slots[1].Name,
		got.Sections[0].Slots[2].Name,
	})
}
