package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorgonia/vidpred"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorgonia.org/tensor"
)

// progress is what the websocket clients receive at every recorded iteration.
type progress struct {
	Name      string  `json:"name"`
	Epoch     int     `json:"epoch"`
	Iteration int     `json:"iteration"`
	Loss      float32 `json:"loss"`
}

// Encoder is a vidpred.OutputEncoder that pushes the training progress to
// every connected websocket client.
type Encoder struct {
	sync.Mutex
	clients map[chan progress]struct{}
}

var upgrader = websocket.Upgrader{} // use default options

func (enc *Encoder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("upgrade")
		return
	}
	defer c.Close()

	ch := enc.subscribe()
	defer enc.unsubscribe(ch)
	for {
		select {
		case p := <-ch:
			b, err := json.Marshal(p)
			if err != nil {
				log.Warn().Err(err).Msg("marshal progress")
				continue
			}
			if err = c.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debug().Err(err).Msg("write")
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// NewEncoder creates an encoder without clients.
func NewEncoder() *Encoder {
	return &Encoder{clients: make(map[chan progress]struct{})}
}

func (enc *Encoder) subscribe() chan progress {
	ch := make(chan progress, 16)
	enc.Lock()
	enc.clients[ch] = struct{}{}
	enc.Unlock()
	return ch
}

func (enc *Encoder) unsubscribe(ch chan progress) {
	enc.Lock()
	delete(enc.clients, ch)
	enc.Unlock()
}

// Encode sends the progress to the clients. Clients that lag behind miss updates.
func (enc *Encoder) Encode(ms vidpred.MetaState) error {
	p := progress{
		Name:      ms.Name(),
		Epoch:     ms.Epoch(),
		Iteration: ms.Iteration(),
		Loss:      ms.Loss(),
	}
	enc.Lock()
	defer enc.Unlock()
	for ch := range enc.clients {
		select {
		case ch <- p:
		default:
		}
	}
	return nil
}

// Flush ...
func (enc *Encoder) Flush() error { return nil }

// multiEncoder encodes into every encoder it holds.
type multiEncoder []vidpred.OutputEncoder

func (m multiEncoder) Encode(ms vidpred.MetaState) error {
	var errs manyErr
	for _, enc := range m {
		if err := enc.Encode(ms); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (m multiEncoder) Flush() error {
	var errs manyErr
	for _, enc := range m {
		if err := enc.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type manyErr []error

func (err manyErr) Error() string {
	var s string
	for i, e := range err {
		if i > 0 {
			s += "; "
		}
		s += e.Error()
	}
	return s
}

// prediction is the state of a forward pass outside of training.
type prediction struct {
	name          string
	frames, preds *tensor.Dense
}

func (p prediction) Name() string               { return p.name }
func (p prediction) Epoch() int                 { return 0 }
func (p prediction) Iteration() int             { return 0 }
func (p prediction) Loss() float32              { return 0 }
func (p prediction) Frames() *tensor.Dense      { return p.frames }
func (p prediction) Predictions() *tensor.Dense { return p.preds }
