package prednet

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	nnops "gorgonia.org/gorgonia/ops/nn"
)

// activation is a pointwise nonlinearity over a node.
type activation func(x *G.Node) (*G.Node, error)

var (
	activations      = []string{"relu", "sigmoid", "tanh", "hardsigmoid"}
	satLUActivations = []string{"hardtanh", "sigmoid"}
)

// UnsupportedActivation is returned when an activation name is not known.
type UnsupportedActivation struct {
	Name      string
	Supported []string
}

func (err UnsupportedActivation) Error() string {
	return fmt.Sprintf("unsupported activation %q, use one of %s", err.Name, strings.Join(err.Supported, ", "))
}

// resolve maps the name of an error or recurrent activation to its function.
func resolve(name string) (activation, error) {
	switch name {
	case "relu":
		return nnops.Rectify, nil
	case "sigmoid":
		return G.Sigmoid, nil
	case "tanh":
		return G.Tanh, nil
	case "hardsigmoid":
		return hardSigmoid, nil
	}
	return nil, UnsupportedActivation{Name: name, Supported: activations}
}

// resolveSatLU returns the saturating output activation bounding values to [0, max].
func resolveSatLU(name string, max float32) (activation, error) {
	switch name {
	case "hardtanh":
		return func(x *G.Node) (*G.Node, error) { return clamp(x, max) }, nil
	case "sigmoid":
		return func(x *G.Node) (*G.Node, error) {
			s, err := G.Sigmoid(x)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			return G.Mul(s, G.NewConstant(max))
		}, nil
	}
	return nil, UnsupportedActivation{Name: name, Supported: satLUActivations}
}

// signed reports whether the named activation can return negative values.
func signed(name string) bool { return name == "tanh" }

// hardSigmoid is clamp(0.2x + 0.5, 0, 1).
func hardSigmoid(x *G.Node) (*G.Node, error) {
	var m maebe
	y := m.do(func() (*G.Node, error) { return G.Mul(x, G.NewConstant(float32(0.2))) })
	y = m.do(func() (*G.Node, error) { return G.Add(y, G.NewConstant(float32(0.5))) })
	if m.err != nil {
		return nil, m.err
	}
	return clamp(y, 1)
}

// clamp bounds x to [0, hi] as hi - relu(hi - relu(x)).
//
// Anything at or below 0 comes out as exactly 0, anything at or above hi as
// exactly hi, and no rounding can push a value outside the bounds.
func clamp(x *G.Node, hi float32) (*G.Node, error) {
	var m maebe
	bound := G.NewConstant(hi)
	r := m.rectify(x)
	r = m.do(func() (*G.Node, error) { return G.Sub(bound, r) })
	r = m.rectify(r)
	r = m.do(func() (*G.Node, error) { return G.Sub(bound, r) })
	return r, m.err
}
