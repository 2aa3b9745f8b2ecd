package covclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	bacnet "github.com/normalframework/bacnet-cov-demo"
	"github.com/normalframework/bacnet-cov-demo/internal/notify"
)

const (
	defaultInterval = 2 * time.Second
	cancelTimeout   = 2 * time.Second

	// maxInFlight bounds concurrent SubscribeCOV requests.
	maxInFlight = 4
)

// Client is the part of *bacnet.BACnetClient the subscriber uses.
type Client interface {
	FindDevice(ctx context.Context, deviceID uint32) (bacnet.DeviceInfo, error)
	ReadObjectList(ctx context.Context, device bacnet.DeviceInfo) ([]bacnet.BACnetObject, error)
	SubscribeCOV(ctx context.Context, device bacnet.DeviceInfo, req bacnet.SubscribeCOVRequest) error
	CancelCOV(ctx context.Context, device bacnet.DeviceInfo, req bacnet.SubscribeCOVRequest) error
	HandleCOV(handler bacnet.COVHandler)
}

// Submitter takes accepted notifications. *notify.Fanout implements it.
type Submitter interface {
	Submit(ev notify.Event) error
}

// Options configures a Subscriber.
type Options struct {
	TargetDeviceID uint32
	// Confirmed asks the device for confirmed notifications.
	Confirmed bool
	// PropertyRequest subscribes with SubscribeCOVProperty on present-value.
	PropertyRequest bool
	// Lifetime in seconds; zero subscribes indefinitely and disables renewal.
	Lifetime uint32
	Interval time.Duration

	// Out receives the subscription failure lines. Defaults to io.Discard.
	Out    io.Writer
	Logger *slog.Logger
}

type subscription struct {
	processID     uint32
	object        bacnet.BACnetObject
	active        bool
	err           string
	subscribedAt  time.Time
	renewAt       time.Time
	notifications int
	lastSeen      time.Time
}

// Subscriber discovers the target device, reads its object list and keeps a
// CoV subscription on every object. Each Tick advances one stage.
type Subscriber struct {
	client Client
	events Submitter
	opts   Options
	log    *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	device   *bacnet.DeviceInfo
	objects  []bacnet.BACnetObject
	subs     map[uint32]*subscription
	byObject map[bacnet.BACnetObject]*subscription
	nextPID  uint32
	values   map[string]map[string]string
}

// New returns a Subscriber. events may be nil.
func New(client Client, events Submitter, opts Options) *Subscriber {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Subscriber{
		client:   client,
		events:   events,
		opts:     opts,
		log:      log,
		now:      time.Now,
		subs:     make(map[uint32]*subscription),
		byObject: make(map[bacnet.BACnetObject]*subscription),
		nextPID:  1,
		values:   make(map[string]map[string]string),
	}
}

// Run registers the notification handler and ticks every interval until ctx
// is cancelled. Active subscriptions are then cancelled best effort.
func (s *Subscriber) Run(ctx context.Context) error {
	s.client.HandleCOV(s.HandleNotification)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("task failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.cancelAll()
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one step of the task: find the device, then read its object
// list, then subscribe, then renew subscriptions that are due.
func (s *Subscriber) Tick(ctx context.Context) error {
	s.mu.Lock()
	device := s.device
	haveObjects := len(s.objects) > 0
	subscribed := len(s.byObject) > 0
	s.mu.Unlock()

	switch {
	case device == nil:
		return s.discover(ctx)
	case !haveObjects:
		return s.readObjects(ctx, *device)
	case !subscribed:
		return s.subscribeAll(ctx, *device)
	default:
		return s.renew(ctx, *device)
	}
}

func (s *Subscriber) discover(ctx context.Context) error {
	device, err := s.client.FindDevice(ctx, s.opts.TargetDeviceID)
	if errors.Is(err, bacnet.ErrDeviceNotFound) {
		s.log.Info("device not found yet", "device_id", s.opts.TargetDeviceID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding device %d: %w", s.opts.TargetDeviceID, err)
	}
	s.log.Info("found device", "device_id", device.DeviceID, "address", device.Addr().String(),
		"max_apdu", device.MaxAPDU, "vendor_id", device.VendorID)

	s.mu.Lock()
	s.device = &device
	s.mu.Unlock()
	return nil
}

func (s *Subscriber) readObjects(ctx context.Context, device bacnet.DeviceInfo) error {
	objects, err := s.client.ReadObjectList(ctx, device)
	if err != nil {
		fmt.Fprintf(s.opts.Out, "had error: %v\n", err)
		return nil
	}
	names := make([]string, len(objects))
	for i, o := range objects {
		names[i] = notify.ObjectName(o)
	}
	s.log.Info("object list", "device_id", device.DeviceID, "objects", names)

	s.mu.Lock()
	s.objects = objects
	s.mu.Unlock()
	return nil
}

func (s *Subscriber) request(sub *subscription) bacnet.SubscribeCOVRequest {
	req := bacnet.SubscribeCOVRequest{
		ProcessID: sub.processID,
		Object:    sub.object,
		Confirmed: s.opts.Confirmed,
		Lifetime:  s.opts.Lifetime,
	}
	if s.opts.PropertyRequest {
		prop := bacnet.PROP_PRESENT_VALUE
		req.Property = &prop
	}
	return req
}

// subscribeAll registers every non-device object under a fresh process id
// and then sends the requests.
func (s *Subscriber) subscribeAll(ctx context.Context, device bacnet.DeviceInfo) error {
	s.mu.Lock()
	var pending []*subscription
	for _, obj := range s.objects {
		if obj.Type == bacnet.OBJECT_DEVICE {
			continue
		}
		if _, ok := s.byObject[obj]; ok {
			continue
		}
		sub := &subscription{processID: s.nextPID, object: obj}
		s.nextPID++
		s.subs[sub.processID] = sub
		s.byObject[obj] = sub
		pending = append(pending, sub)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	for _, sub := range pending {
		g.Go(func() error {
			s.subscribe(gctx, device, sub)
			return nil
		})
	}
	return g.Wait()
}

func (s *Subscriber) subscribe(ctx context.Context, device bacnet.DeviceInfo, sub *subscription) {
	s.mu.Lock()
	req := s.request(sub)
	s.mu.Unlock()

	err := s.client.SubscribeCOV(ctx, device, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		sub.active = false
		sub.err = err.Error()
		s.reportFailure(sub.object, err)
		return
	}
	now := s.now()
	sub.active = true
	sub.err = ""
	sub.subscribedAt = now
	if s.opts.Lifetime > 0 {
		// renew at 80% of the lifetime
		sub.renewAt = now.Add(time.Duration(s.opts.Lifetime) * time.Second * 8 / 10)
	}
	s.log.Debug("subscription active", "object", notify.ObjectName(sub.object), "process_id", sub.processID)
}

func (s *Subscriber) reportFailure(obj bacnet.BACnetObject, err error) {
	name := notify.ObjectName(obj)
	var reject *bacnet.RejectError
	var pdu *bacnet.ErrorPDU
	switch {
	case errors.As(err, &reject):
		fmt.Fprintf(s.opts.Out, "Subscribing to %s produced RejectPDU: %s\n", name, reject.ReasonName())
	case errors.As(err, &pdu):
		fmt.Fprintf(s.opts.Out, "Subscribing to %s produced ErrorPDU: %s - %s\n", name, pdu.ClassName(), pdu.CodeName())
	default:
		fmt.Fprintf(s.opts.Out, "had error: %v\n", err)
	}
}

// renew re-subscribes active subscriptions whose renewal time has passed,
// keeping their process ids.
func (s *Subscriber) renew(ctx context.Context, device bacnet.DeviceInfo) error {
	if s.opts.Lifetime == 0 {
		return nil
	}
	now := s.now()
	s.mu.Lock()
	var due []*subscription
	for _, sub := range s.subs {
		if sub.active && !sub.renewAt.IsZero() && !now.Before(sub.renewAt) {
			due = append(due, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range due {
		s.log.Debug("renewing subscription", "object", notify.ObjectName(sub.object), "process_id", sub.processID)
		s.subscribe(ctx, device, sub)
	}
	return nil
}

func (s *Subscriber) cancelAll() {
	s.mu.Lock()
	device := s.device
	var active []bacnet.SubscribeCOVRequest
	for _, sub := range s.subs {
		if sub.active {
			active = append(active, s.request(sub))
			sub.active = false
		}
	}
	s.mu.Unlock()
	if device == nil {
		return
	}

	for _, req := range active {
		ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		if err := s.client.CancelCOV(ctx, *device, req); err != nil {
			s.log.Warn("cancelling subscription", "object", notify.ObjectName(req.Object), "error", err)
		}
		cancel()
	}
}

// HandleNotification accepts notifications for known process ids coming
// from the subscribed device. Others are refused with
// services/unknownSubscription when confirmed and dropped otherwise.
func (s *Subscriber) HandleNotification(n bacnet.COVNotification) error {
	s.mu.Lock()
	sub, known := s.subs[n.SubscriberProcessIdentifier]
	if known && (s.device == nil || !sameAddr(n.Source, s.device.Addr())) {
		known = false
	}
	if !known {
		s.mu.Unlock()
		s.log.Debug("notification for unknown subscription",
			"process_id", n.SubscriberProcessIdentifier, "from", addrString(n.Source), "confirmed", n.Confirmed)
		if n.Confirmed {
			return &bacnet.ErrorPDU{Class: bacnet.ERROR_CLASS_SERVICES, Code: bacnet.ERROR_CODE_UNKNOWN_SUBSCRIPTION}
		}
		return nil
	}

	ev := notify.FromNotification(n, s.now())
	sub.notifications++
	sub.lastSeen = ev.Time
	last := s.values[ev.Object]
	if last == nil {
		last = make(map[string]string, len(ev.Values))
		s.values[ev.Object] = last
	}
	for _, v := range ev.Values {
		last[v.Property] = v.Text
	}
	s.mu.Unlock()

	if s.events != nil {
		// Submit logs its own drops; the device still gets its ACK.
		_ = s.events.Submit(ev)
	}
	return nil
}

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

func addrString(a *net.UDPAddr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// DeviceState describes the discovered device.
type DeviceState struct {
	ID       uint32 `json:"id"`
	Address  string `json:"address"`
	MaxAPDU  uint32 `json:"max_apdu"`
	VendorID uint32 `json:"vendor_id"`
}

// SubscriptionState describes one subscription.
type SubscriptionState struct {
	ProcessID        uint32     `json:"process_id"`
	Object           string     `json:"object"`
	Active           bool       `json:"active"`
	Error            string     `json:"error,omitempty"`
	Notifications    int        `json:"notifications"`
	SubscribedAt     *time.Time `json:"subscribed_at,omitempty"`
	RenewAt          *time.Time `json:"renew_at,omitempty"`
	LastNotification *time.Time `json:"last_notification,omitempty"`
}

// Snapshot is a copy of the subscriber state.
type Snapshot struct {
	Device        *DeviceState                 `json:"device"`
	Objects       []string                     `json:"objects"`
	Subscriptions []SubscriptionState          `json:"subscriptions"`
	Values        map[string]map[string]string `json:"values"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Snapshot returns the current state, subscriptions ordered by process id.
func (s *Subscriber) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Objects:       make([]string, len(s.objects)),
		Subscriptions: make([]SubscriptionState, 0, len(s.subs)),
		Values:        make(map[string]map[string]string, len(s.values)),
	}
	if s.device != nil {
		snap.Device = &DeviceState{
			ID:       s.device.DeviceID,
			Address:  s.device.Addr().String(),
			MaxAPDU:  s.device.MaxAPDU,
			VendorID: s.device.VendorID,
		}
	}
	for i, o := range s.objects {
		snap.Objects[i] = notify.ObjectName(o)
	}
	for _, sub := range s.subs {
		snap.Subscriptions = append(snap.Subscriptions, SubscriptionState{
			ProcessID:        sub.processID,
			Object:           notify.ObjectName(sub.object),
			Active:           sub.active,
			Error:            sub.err,
			Notifications:    sub.notifications,
			SubscribedAt:     timePtr(sub.subscribedAt),
			RenewAt:          timePtr(sub.renewAt),
			LastNotification: timePtr(sub.lastSeen),
		})
	}
	sort.Slice(snap.Subscriptions, func(i, j int) bool {
		return snap.Subscriptions[i].ProcessID < snap.Subscriptions[j].ProcessID
	})
	for obj, props := range s.values {
		cp := make(map[string]string, len(props))
		for k, v := range props {
			cp[k] = v
		}
		snap.Values[obj] = cp
	}
	return snap
}
