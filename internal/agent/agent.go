// Package agent implements the host beacon sender.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"eumbeacon/internal/beacon"
	"eumbeacon/internal/sysinfo"
)

// Options configures a Sender.
type Options struct {
	AgentID        string
	Secret         string
	Port           int
	NetworkRange   string // broadcast target when set
	MulticastGroup string
	Interface      string // multicast egress interface
	Collector      string // unicast host when set
}

// MaxAgentIDLen bounds the agent ID so an empty beacon always fits in one packet.
const MaxAgentIDLen = 255

// CollectFunc produces the host metrics record sent with every beacon.
type CollectFunc func(now time.Time) (beacon.Record, error)

// Sender periodically sends signed beacons to every configured target.
type Sender struct {
	opts    Options
	conn    *net.UDPConn
	targets []*net.UDPAddr
	collect CollectFunc
	log     zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending []beacon.Record
}

// SysinfoCollector samples the local host with sysinfo.Collect.
func SysinfoCollector(networkRange string) CollectFunc {
	return func(now time.Time) (beacon.Record, error) {
		info, err := sysinfo.Collect(networkRange)
		if err != nil {
			return nil, fmt.Errorf("collecting system info: %w", err)
		}
		return info.Record(now), nil
	}
}

// NewSender resolves the targets and opens the sending socket. A nil
// collect sends only enqueued records.
func NewSender(opts Options, collect CollectFunc, log zerolog.Logger) (*Sender, error) {
	if len(opts.AgentID) > MaxAgentIDLen {
		return nil, fmt.Errorf("agent id is %d bytes, limit is %d", len(opts.AgentID), MaxAgentIDLen)
	}
	targets, err := resolveTargets(opts, log)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, errors.New("no beacon target: set network_range, multicast_group or collector")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("listening for UDP: %w", err)
	}

	if opts.NetworkRange != "" {
		if err := enableBroadcast(conn); err != nil {
			log.Warn().Err(err).Msg("Failed to enable broadcast")
		}
	}

	if opts.MulticastGroup != "" {
		// ipv4.PacketConn is used for multicast control
		pc := ipv4.NewPacketConn(conn)
		if opts.Interface != "" {
			iface, err := net.InterfaceByName(opts.Interface)
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("finding interface %s: %w", opts.Interface, err)
			}
			if err := pc.SetMulticastInterface(iface); err != nil {
				log.Warn().Err(err).Msg("Failed to set multicast interface")
			}
		}
		if err := pc.SetMulticastTTL(1); err != nil {
			log.Warn().Err(err).Msg("Failed to set multicast TTL")
		}
		if err := pc.SetMulticastLoopback(true); err != nil {
			log.Warn().Err(err).Msg("Failed to enable multicast loopback")
		}
	}

	return &Sender{
		opts:    opts,
		conn:    conn,
		targets: targets,
		collect: collect,
		log:     log,
		now:     time.Now,
	}, nil
}

func resolveTargets(opts Options, log zerolog.Logger) ([]*net.UDPAddr, error) {
	var addrs []*net.UDPAddr

	if opts.NetworkRange != "" {
		_, ipNet, err := net.ParseCIDR(opts.NetworkRange)
		if err != nil {
			return nil, fmt.Errorf("parsing network range: %w", err)
		}
		ip := broadcastIP(ipNet)
		if ip == nil {
			return nil, fmt.Errorf("network range %s is not IPv4", opts.NetworkRange)
		}
		addrs = append(addrs, &net.UDPAddr{IP: ip, Port: opts.Port})
	}

	if opts.MulticastGroup != "" {
		mAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(opts.MulticastGroup, fmt.Sprint(opts.Port)))
		if err != nil {
			return nil, fmt.Errorf("resolving multicast address: %w", err)
		}
		addrs = append(addrs, mAddr)
	}

	if opts.Collector != "" {
		sAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(opts.Collector, fmt.Sprint(opts.Port)))
		if err != nil {
			log.Warn().Err(err).Str("collector", opts.Collector).Msg("Failed to resolve unicast collector address")
		} else {
			addrs = append(addrs, sAddr)
		}
	}

	return addrs, nil
}

// broadcastIP returns the directed broadcast address of an IPv4 network.
func broadcastIP(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil {
		return nil
	}
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	out := make(net.IP, len(ip))
	for i := range ip {
		out[i] = ip[i] | ^mask[i]
	}
	return out
}

// Targets returns the resolved destination addresses.
func (s *Sender) Targets() []*net.UDPAddr {
	return s.targets
}

// Enqueue buffers records to go out with the next flush. Safe for concurrent use.
func (s *Sender) Enqueue(records ...beacon.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if !beacon.IsNil(r) {
			s.pending = append(s.pending, r)
		}
	}
}

// Flush sends one beacon holding a fresh host sample and every pending
// record. Beacons too large for one packet are split.
func (s *Sender) Flush() error {
	now := s.now()

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	b := beacon.New()
	if s.collect != nil {
		r, err := s.collect(now)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to collect host metrics")
		} else {
			b.Append(r)
		}
	}
	b.Append(pending...)

	packets, err := s.seal(b, now)
	if err != nil {
		return err
	}

	for _, packet := range packets {
		for _, addr := range s.targets {
			if _, err := s.conn.WriteToUDP(packet, addr); err != nil {
				s.log.Error().Err(err).Str("target", addr.String()).Msg("Failed to send beacon")
				continue
			}
			s.log.Debug().
				Str("target", addr.String()).
				Int("bytes", len(packet)).
				Msg("Beacon sent")
		}
	}
	return nil
}

// seal signs b, halving it until every part fits in one packet. A record
// that cannot fit on its own is dropped.
func (s *Sender) seal(b *beacon.Beacon, now time.Time) ([][]byte, error) {
	packet, err := beacon.Seal(b, s.opts.AgentID, s.opts.Secret, now)
	if err == nil {
		return [][]byte{packet}, nil
	}
	if !errors.Is(err, beacon.ErrPacketTooLarge) || b.Empty() {
		return nil, fmt.Errorf("sealing beacon: %w", err)
	}
	if b.Len() == 1 {
		s.log.Warn().
			Str("kind", b.Data()[0].Kind()).
			Msg("Dropping record larger than one packet")
		return nil, nil
	}

	records := b.Data()
	mid := len(records) / 2
	left, err := s.seal(beacon.Of(records[:mid]...), now)
	if err != nil {
		return nil, err
	}
	right, err := s.seal(beacon.Of(records[mid:]...), now)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// Run flushes immediately and then every interval until ctx is done.
func (s *Sender) Run(ctx context.Context, interval time.Duration) error {
	s.log.Info().
		Str("agent", s.opts.AgentID).
		Int("targets", len(s.targets)).
		Dur("interval", interval).
		Msg("Beacon sender started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.Flush(); err != nil {
			s.log.Error().Err(err).Msg("Beacon flush failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close closes the sending socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}
