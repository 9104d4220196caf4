package plan

import (
	"bytes"
	"encoding/json"
	"net/netip"

	"go4.org/netipx"
)

// The JSON form of a plan is an object keyed by section name, each section
// an object with its metadata and an "ipam" object keyed by slot name.
// Section and slot order is preserved on both marshal and unmarshal so
// that a serialized plan can be fed back as the previous allocation state
// of an incremental run without any loss.

type slotDoc struct {
	VLAN       *int                   `json:"vlan"`
	Label      string                 `json:"label,omitempty"`
	IPRange    rangeDoc               `json:"ip_range"`
	Gateway    *string                `json:"gateway"`
	CIDR       string                 `json:"cidr"`
	PrefixLen  int                    `json:"prefixlen"`
	Netmask    string                 `json:"netmask"`
	Kind       Kind                   `json:"kind"`
	Source     string                 `json:"source,omitempty"`
	VLANSource string                 `json:"vlan_source,omitempty"`
	Size       *int                   `json:"size,omitempty"`
	From       string                 `json:"from,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type rangeDoc struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Str   string `json:"str"`
	Size  uint64 `json:"size"`
}

func (s *AllocatedSlot) doc() slotDoc {
	d := slotDoc{
		VLAN:  s.VLAN,
		Label: s.Label,
		IPRange: rangeDoc{
			Start: s.Range.From().String(),
			End:   s.Range.To().String(),
			Str:   s.Range.String(),
			Size:  RangeSize(s.Range),
		},
		CIDR:       s.CIDR.String(),
		PrefixLen:  s.CIDR.Bits(),
		Netmask:    Netmask(s.CIDR),
		Kind:       s.Kind,
		Source:     s.Source,
		VLANSource: s.VLANSource,
		Size:       s.Size,
		From:       s.From,
		Metadata:   s.Metadata,
	}
	if s.HasGateway() {
		gw := s.Gateway.String()
		d.Gateway = &gw
	}
	return d
}

func (d *slotDoc) slot(name string) (*AllocatedSlot, error) {
	cidr, err := netip.ParsePrefix(d.CIDR)
	if err != nil {
		return nil, DefinitionError("previous plan: slot %q has an invalid cidr %q: %v", name, d.CIDR, err)
	}
	start, err := netip.ParseAddr(d.IPRange.Start)
	if err != nil {
		return nil, DefinitionError("previous plan: slot %q has an invalid range start %q: %v", name, d.IPRange.Start, err)
	}
	end, err := netip.ParseAddr(d.IPRange.End)
	if err != nil {
		return nil, DefinitionError("previous plan: slot %q has an invalid range end %q: %v", name, d.IPRange.End, err)
	}
	r := netipx.IPRangeFrom(start, end)
	if !r.IsValid() {
		return nil, DefinitionError("previous plan: slot %q has an inverted range %s-%s", name, start, end)
	}

	s := &AllocatedSlot{
		Name:       name,
		Kind:       d.Kind,
		Label:      d.Label,
		CIDR:       cidr,
		Range:      r,
		VLAN:       d.VLAN,
		Source:     d.Source,
		VLANSource: d.VLANSource,
		Size:       d.Size,
		From:       d.From,
		Metadata:   d.Metadata,
	}
	if d.Gateway != nil {
		gw, err := netip.ParseAddr(*d.Gateway)
		if err != nil {
			return nil, DefinitionError("previous plan: slot %q has an invalid gateway %q: %v", name, *d.Gateway, err)
		}
		s.Gateway = gw
	}
	return s, nil
}

// MarshalJSON writes the plan as an ordered JSON object.
func (p *Plan) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, sec := range p.Sections {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, sec.Name); err != nil {
			return nil, err
		}
		buf.WriteString(`{"metadata":`)
		md := sec.Metadata
		if md == nil {
			md = map[string]interface{}{}
		}
		b, err := json.Marshal(md)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
		buf.WriteString(`,"ipam":{`)
		for j, slot := range sec.Slots {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := writeKey(&buf, slot.Name); err != nil {
				return nil, err
			}
			b, err := json.Marshal(slot.doc())
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteString("}}")
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	b, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(b)
	buf.WriteByte(':')
	return nil
}

// UnmarshalJSON reads a plan back, preserving section and slot order.
func (p *Plan) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	if err := expectDelim(dec, '{'); err != nil {
		return DefinitionError("previous plan: %v", err)
	}
	for dec.More() {
		name, err := stringToken(dec)
		if err != nil {
			return DefinitionError("previous plan: %v", err)
		}
		sec := &SectionPlan{Name: name}
		if err := sec.decode(dec); err != nil {
			return err
		}
		p.Sections = append(p.Sections, sec)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return DefinitionError("previous plan: %v", err)
	}
	return nil
}

func (s *SectionPlan) decode(dec *json.Decoder) error {
	if err := expectDelim(dec, '{'); err != nil {
		return DefinitionError("previous plan: section %q: %v", s.Name, err)
	}
	for dec.More() {
		key, err := stringToken(dec)
		if err != nil {
			return DefinitionError("previous plan: section %q: %v", s.Name, err)
		}
		switch key {
		case "metadata":
			if err := dec.Decode(&s.Metadata); err != nil {
				return DefinitionError("previous plan: section %q has invalid metadata: %v", s.Name, err)
			}
		case "ipam":
			if err := s.decodeSlots(dec); err != nil {
				return err
			}
		default:
			var skip interface{}
			if err := dec.Decode(&skip); err != nil {
				return DefinitionError("previous plan: section %q: %v", s.Name, err)
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return DefinitionError("previous plan: section %q: %v", s.Name, err)
	}
	return nil
}

func (s *SectionPlan) decodeSlots(dec *json.Decoder) error {
	if err := expectDelim(dec, '{'); err != nil {
		return DefinitionError("previous plan: section %q: %v", s.Name, err)
	}
	for dec.More() {
		name, err := stringToken(dec)
		if err != nil {
			return DefinitionError("previous plan: section %q: %v", s.Name, err)
		}
		var d slotDoc
		if err := dec.Decode(&d); err != nil {
			return DefinitionError("previous plan: section %q slot %q is malformed: %v", s.Name, name, err)
		}
		slot, err := d.slot(name)
		if err != nil {
			return err
		}
		s.Slots = append(s.Slots, slot)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return DefinitionError("previous plan: section %q: %v", s.Name, err)
	}
	return nil
}

func expectDelim(dec *json.Decoder, want rune) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || rune(d) != want {
		return DefinitionError("expected %q, got %v", want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	s, ok := tok.(string)
	if !ok {
		return "", DefinitionError("expected an object key, got %v", tok)
	}
	return s, nil
}

// ParsePlan parses the serialized form of a previously produced plan.
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		if IsDefinitionError(err) {
			return nil, err
		}
		return nil, DefinitionError("cannot parse previous plan: %v", err)
	}
	return &p, nil
}
