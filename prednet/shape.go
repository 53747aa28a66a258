package prednet

import "github.com/pkg/errors"

// pooled is the output size of a 2x2, stride 2 max pool over n.
func pooled(n int) int { return (n-2)/2 + 1 }

// LayerDims returns the (height, width) of every layer. Layer 0 has the frame
// size, each layer above is halved by the A cell's pool.
func LayerDims(height, width, layers int) [][2]int {
	retVal := make([][2]int, layers)
	for l := range retVal {
		retVal[l] = [2]int{height, width}
		height, width = pooled(height), pooled(width)
	}
	return retVal
}

// checkDims makes sure every layer below the top pools to exactly half its
// size, which is what the upsampling of the R cells undoes.
func checkDims(height, width, layers int) error {
	for l, hw := range LayerDims(height, width, layers) {
		if l == layers-1 {
			break
		}
		if hw[0] < 2 || hw[1] < 2 || hw[0]%2 != 0 || hw[1]%2 != 0 {
			return errors.Errorf("frame size %dx%d must halve evenly for %d layers: layer %d is %dx%d", height, width, layers, l, hw[0], hw[1])
		}
	}
	return nil
}
