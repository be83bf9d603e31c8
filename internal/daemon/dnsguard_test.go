package daemon

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/config"
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// blockList blocks every host except the allowed ones.
type blockList struct {
	allowed map[string]bool
}

func (b blockList) Decide(host string) domain.Verdict {
	if b.allowed[host] {
		return domain.Verdict{RuleID: 1}
	}
	return domain.Verdict{Blocked: true, RuleID: 999}
}

type fakeExchanger struct {
	err     error
	queries []string
}

func (f *fakeExchanger) Exchange(m *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
	f.queries = append(f.queries, m.Question[0].Name)
	if f.err != nil {
		return nil, 0, f.err
	}
	resp := new(dns.Msg)
	resp.SetReply(m)
	resp.Answer = append(resp.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: m.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   net.ParseIP("140.82.112.3"),
	})
	return resp, time.Millisecond, nil
}

func testDNSConfig() config.DNSConfig {
	cfg := config.DefaultConfig().DNS
	cfg.Enabled = true
	cfg.Listen = "127.0.0.1:0"
	return cfg
}

func newTestGuard(upstream *fakeExchanger) *DNSGuard {
	decider := blockList{allowed: map[string]bool{"github.com": true}}
	return NewDNSGuardWithExchanger(testDNSConfig(), decider, upstream, zap.NewNop())
}

func query(name string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	return m
}

func TestDNSGuard_Resolve(t *testing.T) {
	tests := []struct {
		name         string
		query        *dns.Msg
		upstreamErr  error
		wantRcode    int
		wantAnswer   string
		wantUpstream bool
	}{
		{
			name:       "blocked A gets sink address",
			query:      query("news.example.com", dns.TypeA),
			wantRcode:  dns.RcodeSuccess,
			wantAnswer: "0.0.0.0",
		},
		{
			name:       "blocked AAAA gets sink address",
			query:      query("news.example.com", dns.TypeAAAA),
			wantRcode:  dns.RcodeSuccess,
			wantAnswer: "::",
		},
		{
			name:      "blocked other type gets empty answer",
			query:     query("news.example.com", dns.TypeMX),
			wantRcode: dns.RcodeSuccess,
		},
		{
			name:         "allowed host forwarded",
			query:        query("github.com", dns.TypeA),
			wantRcode:    dns.RcodeSuccess,
			wantAnswer:   "140.82.112.3",
			wantUpstream: true,
		},
		{
			name:         "upstream failure",
			query:        query("github.com", dns.TypeA),
			upstreamErr:  errors.New("timeout"),
			wantRcode:    dns.RcodeServerFailure,
			wantUpstream: true,
		},
		{
			name:      "no question",
			query:     new(dns.Msg),
			wantRcode: dns.RcodeFormatError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := &fakeExchanger{err: tt.upstreamErr}
			g := newTestGuard(upstream)

			resp := g.resolve(tt.query)

			require.NotNil(t, resp)
			assert.Equal(t, tt.wantRcode, resp.Rcode)
			assert.Equal(t, tt.query.Id, resp.Id)
			assert.Equal(t, tt.wantUpstream, len(upstream.queries) > 0)

			if tt.wantAnswer == "" {
				assert.Empty(t, resp.Answer)
				return
			}
			require.Len(t, resp.Answer, 1)
			switch rr := resp.Answer[0].(type) {
			case *dns.A:
				assert.Equal(t, tt.wantAnswer, rr.A.String())
			case *dns.AAAA:
				assert.Equal(t, tt.wantAnswer, rr.AAAA.String())
			default:
				t.Fatalf("unexpected answer %T", rr)
			}
		})
	}
}

func TestDNSGuard_BlockedTTLAndCustomSink(t *testing.T) {
	cfg := testDNSConfig()
	cfg.BlockedIP = "127.0.0.2"
	cfg.BlockedTTL = 42
	g := NewDNSGuardWithExchanger(cfg, blockList{}, &fakeExchanger{}, zap.NewNop())

	resp := g.resolve(query("example.com", dns.TypeA))

	require.Len(t, resp.Answer, 1)
	a := resp.Answer[0].(*dns.A)
	assert.Equal(t, "127.0.0.2", a.A.String())
	assert.Equal(t, uint32(42), a.Hdr.Ttl)
}

func TestDNSGuard_ServeUDP(t *testing.T) {
	upstream := &fakeExchanger{}
	g := newTestGuard(upstream)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	require.NoError(t, g.Serve(pc, l))
	defer g.Shutdown()

	c := &dns.Client{Timeout: 2 * time.Second}
	resp, _, err := c.Exchange(query("news.example.com", dns.TypeA), pc.LocalAddr().String())
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "0.0.0.0", resp.Answer[0].(*dns.A).A.String())

	tcp := &dns.Client{Net: "tcp", Timeout: 2 * time.Second}
	resp, _, err = tcp.Exchange(query("github.com", dns.TypeA), l.Addr().String())
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "140.82.112.3", resp.Answer[0].(*dns.A).A.String())
}
