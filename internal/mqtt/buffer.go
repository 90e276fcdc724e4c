package mqtt

import "github.com/sirupsen/logrus"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while the broker is away.
//
// A retained message replaces any queued retained message on the same
// topic, so a relay that flips ten times during an outage replays as one
// state message. Other messages queue in order. When full, the oldest
// message is dropped.
//
// Not safe for concurrent use; caller must synchronize.
type outbox struct {
	msgs     []bufferedMsg
	capacity int
	overflow bool // a message was dropped since the last drain
	log      logrus.FieldLogger
}

func newOutbox(capacity int, log logrus.FieldLogger) *outbox {
	return &outbox{capacity: capacity, log: log}
}

func (o *outbox) push(msg bufferedMsg) {
	if msg.retained {
		for i, m := range o.msgs {
			if m.retained && m.topic == msg.topic {
				o.msgs = append(o.msgs[:i], o.msgs[i+1:]...)
				break
			}
		}
	}

	if len(o.msgs) == o.capacity {
		if !o.overflow && o.log != nil {
			o.log.Warnf("mqtt: outbox full (%d messages), dropping oldest", o.capacity)
		}
		o.overflow = true
		o.msgs = o.msgs[1:]
	}
	o.msgs = append(o.msgs, msg)
}

func (o *outbox) drainAll() []bufferedMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	out := o.msgs
	o.msgs = nil
	o.overflow = false
	return out
}

func (o *outbox) len() int {
	return len(o.msgs)
}
