package realtime

import v1 "github.com/Avinash-006/sdp-kubernetes/shared/contracts/realtime/v1"

// topic is the subscriber set of one topic name. Guarded by Hub.mu.
type topic struct {
	name string
	subs map[string]*Client
}

func newTopic(name string) *topic {
	return &topic{name: name, subs: make(map[string]*Client)}
}

// broadcast fans env out to every subscriber without blocking: a full queue
// or a closing client drops the event for that subscriber only.
func (t *topic) broadcast(env v1.Envelope) (delivered, dropped int) {
	for _, c := range t.subs {
		if c == nil {
			continue
		}

		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- env:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}
