package prednet

import (
	"sort"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LoadTorch loads the learnables from a PyTorch state_dict saved with
// torch.save(model.state_dict(), filename) by the Python PredNet.
func (p *PredNet) LoadTorch(filename string) error {
	torchModel, err := pytorch.Load(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to load torch model %q", filename)
	}
	params, err := makeParamsMap(torchModel)
	if err != nil {
		return errors.Wrap(err, "failed to read model params")
	}
	return p.letParams(params)
}

type paramsMap map[string][]float32

// letParams sets every learnable from params. Every learnable must be present
// with the right number of elements and every param must be used.
func (p *PredNet) letParams(params paramsMap) error {
	var errs manyErr
	for _, n := range p.model {
		data, ok := params[n.Name()]
		if !ok {
			errs = append(errs, errors.Errorf("parameter %q not found", n.Name()))
			continue
		}
		delete(params, n.Name())
		if len(data) != n.Shape().TotalSize() {
			errs = append(errs, errors.Errorf("parameter %q has %d elements, expected %d (shape %v)", n.Name(), len(data), n.Shape().TotalSize(), n.Shape()))
			continue
		}
		backing := make([]float32, len(data))
		copy(backing, data)
		v := tensor.New(tensor.WithShape(n.Shape().Clone()...), tensor.WithBacking(backing))
		if err := G.Let(n, v); err != nil {
			errs = append(errs, err)
		}
	}
	if len(params) > 0 {
		unused := make([]string, 0, len(params))
		for k := range params {
			unused = append(unused, k)
		}
		sort.Strings(unused)
		errs = append(errs, errors.Errorf("unexpected parameters %v", unused))
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func makeParamsMap(torchModel interface{}) (paramsMap, error) {
	od, ok := torchModel.(*types.OrderedDict)
	if !ok {
		return nil, errors.Errorf("expected a state_dict, got %T", torchModel)
	}

	params := make(paramsMap, od.Len())
	for k, item := range od.Map {
		name, ok := k.(string)
		if !ok {
			return nil, errors.Errorf("wrong param name type %T", k)
		}
		t, ok := item.Value.(*pytorch.Tensor)
		if !ok {
			return nil, errors.Errorf("wrong value type for param %q: %T", name, item.Value)
		}
		data, err := tensorData(t)
		if err != nil {
			return nil, errors.WithMessage(err, name)
		}
		params[name] = data
	}
	return params, nil
}

func tensorData(t *pytorch.Tensor) ([]float32, error) {
	st, ok := t.Source.(*pytorch.FloatStorage)
	if !ok {
		return nil, errors.Errorf("only FloatStorage is supported, actual %T", t.Source)
	}
	size := 1
	for _, v := range t.Size {
		size *= v
	}
	if !contiguous(t.Size, t.Stride) {
		return nil, errors.Errorf("tensor of size %v with stride %v is not contiguous", t.Size, t.Stride)
	}
	return st.Data[t.StorageOffset : t.StorageOffset+size], nil
}

func contiguous(size, stride []int) bool {
	expected := 1
	for i := len(size) - 1; i >= 0; i-- {
		if size[i] != 1 && stride[i] != expected {
			return false
		}
		expected *= size[i]
	}
	return true
}
