package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"github.com/ipam-tools/ipplan/cmd/ipplan/internal/plan"
)

// Human renders the plan as an aligned table. Slots marked reserved in
// their metadata occupy space but are not listed.
func Human(p *plan.Plan) string {
	header := []string{"NF", "NET", "CIDR", "IP_RANGE", "GW_IP", "VLAN", "SIZE"}

	rows := [][]string{}
	for _, sec := range p.Sections {
		for _, slot := range sec.Slots {
			if slot.Reserved() {
				continue
			}
			gw := "-"
			if slot.HasGateway() {
				gw = slot.Gateway.String()
			}
			vlan := "-"
			if slot.VLAN != nil {
				vlan = strconv.Itoa(*slot.VLAN)
			}
			rows = append(rows, []string{
				sec.Name,
				slot.Name,
				slot.CIDR.String(),
				slot.Range.String(),
				gw,
				vlan,
				humanize.Comma(int64(plan.RangeSize(slot.Range))),
			})
		}
	}

	widths := lo.Map(header, func(h string, col int) int {
		w := len(h)
		for _, row := range rows {
			if len(row[col]) > w {
				w = len(row[col])
			}
		}
		return w
	})

	var b strings.Builder
	writeRow := func(row []string) {
		cells := lo.Map(row, func(c string, col int) string {
			return fmt.Sprintf("%-*s", widths[col], c)
		})
		b.WriteString(strings.TrimRight(strings.Join(cells, "  "), " "))
		b.WriteByte('\n')
	}

	writeRow(header)
	b.WriteString(strings.Repeat("-", lo.Sum(widths)+2*(len(header)-1)))
	b.WriteByte('\n')
	for _, row := range rows {
		writeRow(row)
	}
	return strings.TrimRight(b.String(), "\n")
}
