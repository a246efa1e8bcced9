package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"drive-ally/internal/nav"
)

// Subject kinds under nav.<driver>.
const (
	KindState     = "state"
	KindEvents    = "events"
	KindVoice     = "voice"
	KindPositions = "positions"
)

type NATSPublisher struct {
	nc          *nats.Conn
	driver      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, driverID string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("drive-ally"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("[nats] disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("[nats] reconnected to %s", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("[nats] closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, driver: driverID, logSubjects: logSubjects, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// Subject returns nav.<driver>.<kind>.
func Subject(driverID, kind string) string {
	return fmt.Sprintf("nav.%s.%s", subjectToken(driverID), kind)
}

// PositionMessage is a GPS sample on the positions subject.
type PositionMessage struct {
	DriverID  string    `json:"driverId"`
	RouteID   string    `json:"routeId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Bearing   *float64  `json:"bearing,omitempty"`
	SpeedMps  *float64  `json:"speedMps,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Progress  float64   `json:"progress,omitempty"`
}

func (m PositionMessage) Coordinate() nav.Coordinate {
	return nav.Coordinate{Lat: m.Lat, Lng: m.Lon, Heading: m.Bearing, Speed: m.SpeedMps, Accuracy: m.Accuracy}
}

// EventMessage reports a consumed timeline event.
type EventMessage struct {
	Timestamp time.Time      `json:"timestamp"`
	Announced bool           `json:"announced"`
	Event     nav.RouteEvent `json:"event"`
}

type VoiceMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

type StateMessage struct {
	Timestamp time.Time     `json:"timestamp"`
	State     nav.TripState `json:"state"`
}

func (p *NATSPublisher) PublishState(state nav.TripState) error {
	return p.publish(Subject(p.driver, KindState), StateMessage{Timestamp: time.Now(), State: state})
}

func (p *NATSPublisher) PublishEvent(ev nav.RouteEvent, announced bool) error {
	return p.publish(Subject(p.driver, KindEvents), EventMessage{Timestamp: time.Now(), Announced: announced, Event: ev})
}

func (p *NATSPublisher) PublishVoice(text string) error {
	return p.publish(Subject(p.driver, KindVoice), VoiceMessage{Timestamp: time.Now(), Text: text})
}

func (p *NATSPublisher) PublishPosition(msg PositionMessage) error {
	if msg.DriverID == "" {
		msg.DriverID = p.driver
	}
	return p.publish(Subject(msg.DriverID, KindPositions), msg)
}

// SubscribePositions delivers decoded samples for this driver to fn.
// Malformed messages are logged and skipped.
func (p *NATSPublisher) SubscribePositions(fn func(nav.Coordinate)) (*nats.Subscription, error) {
	subject := Subject(p.driver, KindPositions)
	sub, err := p.nc.Subscribe(subject, func(m *nats.Msg) {
		c, err := DecodePosition(m.Data)
		if err != nil {
			log.Printf("[nats] dropping position on %s: %v", m.Subject, err)
			return
		}
		fn(c)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	log.Printf("[nats] listening for positions on %s", subject)
	return sub, nil
}

// DecodePosition parses a PositionMessage payload.
func DecodePosition(data []byte) (nav.Coordinate, error) {
	var msg PositionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nav.Coordinate{}, err
	}
	c := msg.Coordinate()
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return nav.Coordinate{}, fmt.Errorf("position out of range: %v,%v", c.Lat, c.Lng)
	}
	return c, nil
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("[nats] publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

// Observer returns an engine observer that mirrors consumed events onto the
// events subject. Status changes already travel with the state snapshots.
func (p *NATSPublisher) Observer() *EventObserver { return &EventObserver{p: p} }

type EventObserver struct{ p *NATSPublisher }

func (o *EventObserver) StatusChanged(nav.Status) {}
func (o *EventObserver) TripEnded(bool)          {}

func (o *EventObserver) EventConsumed(ev nav.RouteEvent, announced bool) {
	if err := o.p.PublishEvent(ev, announced); err != nil {
		log.Printf("[nats] publish event: %v", err)
	}
}
