package prednet

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/awalterschulze/gographviz"
)

type cellDesc struct {
	Name     string
	Channels int
	Kernel   int
	Height   int
	Width    int
	Extra    string
}

// ToDot renders the layer hierarchy as a graphviz digraph: one node per cell,
// edges for the bottom-up error path and the top-down recurrent path.
func (p *PredNet) ToDot() (string, error) {
	conf := p.Config
	nb := conf.Layers()
	dims := LayerDims(conf.Height, conf.Width, nb)

	g := gographviz.NewGraph()
	if err := g.SetName("PredNet"); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	if err := g.AddAttr("PredNet", "rankdir", "BT"); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	add := func(id string, d cellDesc) error {
		buf.Reset()
		if err := cellTmpl.Execute(&buf, d); err != nil {
			return err
		}
		return g.AddNode("PredNet", id, map[string]string{
			"shape": "none",
			"label": strings.TrimSpace(buf.String()),
		})
	}
	edge := func(from, to string, attrs map[string]string) error {
		return g.AddEdge(from, to, true, attrs)
	}
	recurrent := map[string]string{"style": "dashed"}

	if err := add("Frames", cellDesc{Name: "Frames", Channels: conf.InChannels, Height: conf.Height, Width: conf.Width}); err != nil {
		return "", err
	}
	for l := 0; l < nb; l++ {
		h, w := dims[l][0], dims[l][1]
		r := fmt.Sprintf("R%d", l)
		ahat := fmt.Sprintf("Ahat%d", l)
		e := fmt.Sprintf("E%d", l)
		a := fmt.Sprintf("A%d", l)

		var extra string
		switch {
		case conf.FC && conf.UseOut:
			extra = "fc, 1x1 out"
		case conf.FC:
			extra = "fc"
		case conf.UseOut:
			extra = "1x1 out"
		}
		if err := add(r, cellDesc{Name: r, Channels: conf.RStackSizes[l], Kernel: conf.RKernelSizes[l], Height: h, Width: w, Extra: extra}); err != nil {
			return "", err
		}
		extra = ""
		if l == 0 && conf.UseSatLU {
			extra = "satlu " + conf.SatLUAct
		}
		if err := add(ahat, cellDesc{Name: ahat, Channels: conf.StackSizes[l], Kernel: conf.AhatKernelSizes[l], Height: h, Width: w, Extra: extra}); err != nil {
			return "", err
		}
		if err := add(e, cellDesc{Name: e, Channels: 2 * conf.StackSizes[l], Height: h, Width: w, Extra: conf.ErrorAct}); err != nil {
			return "", err
		}

		target := "Frames"
		if l > 0 {
			target = a
			if err := add(a, cellDesc{Name: a, Channels: conf.StackSizes[l], Kernel: conf.AKernelSizes[l-1], Height: h, Width: w, Extra: "maxpool 2x2"}); err != nil {
				return "", err
			}
			if err := edge(fmt.Sprintf("E%d", l-1), a, nil); err != nil {
				return "", err
			}
		}
		for _, pair := range [][2]string{{r, ahat}, {ahat, e}, {target, e}} {
			if err := edge(pair[0], pair[1], nil); err != nil {
				return "", err
			}
		}
		if err := edge(e, r, recurrent); err != nil {
			return "", err
		}
		if l < nb-1 {
			if err := edge(fmt.Sprintf("R%d", l+1), r, nil); err != nil {
				return "", err
			}
		}
	}
	return g.String(), nil
}

const cellTmplRaw = `<
<TABLE BORDER="0" CELLBORDER="1" CELLSPACING="0">
<TR><TD COLSPAN="2"><B>{{.Name}}</B></TD></TR>
<TR><TD>Channels</TD><TD>{{.Channels}}</TD></TR>
{{if .Kernel}}<TR><TD>Kernel</TD><TD>{{.Kernel}}x{{.Kernel}}</TD></TR>
{{end}}<TR><TD>Size</TD><TD>{{.Height}}x{{.Width}}</TD></TR>
{{if .Extra}}<TR><TD COLSPAN="2">{{.Extra}}</TD></TR>
{{end}}</TABLE>
>
`

var cellTmpl *template.Template

func init() {
	cellTmpl = template.Must(template.New("cell").Parse(cellTmplRaw))
}
