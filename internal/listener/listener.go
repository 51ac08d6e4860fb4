// Package listener implements the UDP beacon receiver of the collector.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eumbeacon/internal/beacon"
	"eumbeacon/internal/ingest"
	"eumbeacon/internal/metrics"
)

// Options configures a Listener.
type Options struct {
	Port           int
	MulticastGroup string // joined when set
	Interface      string
	Secret         string
	SelfAgentID    string // packets from this agent are ignored
	MaxClockSkew   time.Duration
	RateLimit      int // packets per source IP per minute
}

// Listener receives signed beacon packets and hands them to a Sink.
type Listener struct {
	opts    Options
	sink    ingest.Sink
	metrics *metrics.Metrics
	log     zerolog.Logger
	limiter *rateLimiter
	now     func() time.Time
}

// New creates a listener. m may be nil.
func New(opts Options, sink ingest.Sink, m *metrics.Metrics, log zerolog.Logger) *Listener {
	if opts.MaxClockSkew == 0 {
		opts.MaxClockSkew = 60 * time.Second
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 60
	}
	return &Listener{
		opts:    opts,
		sink:    sink,
		metrics: m,
		log:     log,
		limiter: newRateLimiter(opts.RateLimit, time.Minute),
		now:     time.Now,
	}
}

// Listen opens the UDP socket described by the options.
func (l *Listener) Listen() (*net.UDPConn, error) {
	if l.opts.MulticastGroup == "" {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: l.opts.Port})
		if err != nil {
			return nil, fmt.Errorf("listening on UDP port %d: %w", l.opts.Port, err)
		}
		return conn, nil
	}

	var iface *net.Interface
	if l.opts.Interface != "" {
		var err error
		iface, err = net.InterfaceByName(l.opts.Interface)
		if err != nil {
			return nil, fmt.Errorf("finding interface %s: %w", l.opts.Interface, err)
		}
	}

	group := net.ParseIP(l.opts.MulticastGroup)
	if group == nil {
		return nil, fmt.Errorf("invalid multicast group: %s", l.opts.MulticastGroup)
	}

	conn, err := net.ListenMulticastUDP("udp4", iface, &net.UDPAddr{IP: group, Port: l.opts.Port})
	if err != nil {
		return nil, fmt.Errorf("joining multicast group: %w", err)
	}
	return conn, nil
}

// Serve reads packets from conn until ctx is done or conn is closed.
func (l *Listener) Serve(ctx context.Context, conn *net.UDPConn) error {
	if err := conn.SetReadBuffer(beacon.MaxPacketSize * 10); err != nil {
		l.log.Warn().Err(err).Msg("Failed to set read buffer")
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	l.log.Info().
		Str("addr", conn.LocalAddr().String()).
		Str("multicast_group", l.opts.MulticastGroup).
		Msg("Listener started, waiting for beacons")

	var wg sync.WaitGroup
	defer wg.Wait()

	buf := make([]byte, beacon.MaxPacketSize)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.Error().Err(err).Msg("Error reading from UDP")
			continue
		}

		if !l.limiter.Allow(src.IP.String(), l.now()) {
			l.metrics.Reject(metrics.ReasonRateLimited)
			l.log.Warn().Str("src_ip", src.IP.String()).Msg("Rate limit exceeded, dropping packet")
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])

		wg.Add(1)
		go func() {
			defer wg.Done()
			l.HandlePacket(ctx, packet, src)
		}()
	}
}

// HandlePacket verifies one packet and forwards its beacon to the sink.
func (l *Listener) HandlePacket(ctx context.Context, packet []byte, src *net.UDPAddr) {
	srcAddr := src.String()

	env, b, err := beacon.Open(packet, l.opts.Secret)
	switch {
	case errors.Is(err, beacon.ErrPacketTooSmall):
		l.metrics.Reject(metrics.ReasonTooSmall)
		l.log.Warn().Str("src", srcAddr).Msg("Packet too small, discarding")
		return
	case errors.Is(err, beacon.ErrBadSignature):
		l.metrics.Reject(metrics.ReasonSignature)
		l.log.Warn().Str("src", srcAddr).Str("reason", "HMAC mismatch").Msg("HMAC validation failed")
		return
	case err != nil:
		l.metrics.Reject(metrics.ReasonDecode)
		l.log.Warn().Str("src", srcAddr).Err(err).Msg("Failed to decode beacon")
		return
	}

	if l.opts.SelfAgentID != "" && env.AgentID == l.opts.SelfAgentID {
		return
	}

	now := l.now()
	skew := now.Sub(time.Unix(env.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > l.opts.MaxClockSkew {
		l.metrics.Reject(metrics.ReasonStale)
		l.log.Warn().
			Str("src", srcAddr).
			Int64("packet_ts", env.Timestamp).
			Int64("server_ts", now.Unix()).
			Msg("Stale timestamp, discarding packet")
		return
	}

	d := ingest.Delivery{
		RequestID: uuid.NewString(),
		Source:    "udp:" + srcAddr,
		AgentID:   env.AgentID,
		Received:  now,
		Beacon:    b,
	}
	if err := l.sink.Ingest(ctx, d); err != nil {
		l.log.Error().Err(err).Str("agent", env.AgentID).Msg("Failed to ingest beacon")
	}
}

// rateLimiter counts packets per key in fixed windows.
type rateLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	counts    map[string]int
	resetTime time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window, counts: make(map[string]int)}
}

// Allow records one packet from key and reports whether it is within the limit.
func (r *rateLimiter) Allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.After(r.resetTime) {
		r.counts = make(map[string]int)
		r.resetTime = now.Add(r.window)
	}
	r.counts[key]++
	return r.counts[key] <= r.limit
}
