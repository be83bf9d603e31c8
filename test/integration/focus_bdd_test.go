//go:build integration

package integration

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"github.com/miekg/dns"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/config"
	"github.com/eliteGoblin/focusd/site_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/infra"
	"github.com/eliteGoblin/focusd/site_mon/internal/router"
)

type settableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *settableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *settableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Notify(title, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return nil
}

func (n *countingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

// blockedLookup reports whether the guard answered host with the sink address.
func blockedLookup(addr, host string) bool {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	c := &dns.Client{Timeout: 2 * time.Second}
	resp, _, err := c.Exchange(m, addr)
	Expect(err).NotTo(HaveOccurred())
	if len(resp.Answer) != 1 {
		return false
	}
	a, ok := resp.Answer[0].(*dns.A)
	return ok && a.A.Equal(net.IPv4zero)
}

var _ = Describe("Focus mode daemon", func() {
	var (
		dataDir  string
		clock    *settableClock
		notifier *countingNotifier
		bg       *daemon.Background
		client   *router.Client
		cancel   context.CancelFunc
		done     chan error
		ctx      context.Context
	)

	start := func() {
		cfg := config.DefaultConfig()
		cfg.ControlAddr = "127.0.0.1:0"
		cfg.DefaultAllowedSites = []string{"github.com", "wikipedia.org"}
		cfg.DNS.Enabled = true
		cfg.DNS.Listen = "127.0.0.1:0"
		// Nothing answers here; forwarded queries fail with SERVFAIL.
		cfg.DNS.Upstream = "127.0.0.1:1"

		var runCtx context.Context
		runCtx, cancel = context.WithCancel(context.Background())

		var err error
		bg, err = daemon.Build(runCtx, daemon.Options{
			DataDir:    dataDir,
			Config:     cfg,
			AppVersion: "integration",
			Clock:      clock,
			Notifier:   notifier,
		}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		done = make(chan error, 1)
		go func() { done <- bg.Run(runCtx) }()
		Eventually(bg.Ready(), 5*time.Second).Should(BeClosed())

		client = router.NewClient(bg.ControlAddr(), 2*time.Second)
	}

	stop := func() {
		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))
	}

	BeforeEach(func() {
		var err error
		dataDir, err = os.MkdirTemp("", "sitemon-integration-*")
		Expect(err).NotTo(HaveOccurred())

		clock = &settableClock{now: time.Now()}
		notifier = &countingNotifier{}
		ctx = context.Background()
		start()
	})

	AfterEach(func() {
		stop()
		os.RemoveAll(dataDir)
	})

	Describe("first run", func() {
		It("should install defaults with blocking off", func() {
			status, err := client.GetStatus(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(*status).To(Equal(domain.Status{TimerDuration: 60}))

			sites, err := client.GetAllowedSites(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(sites).To(Equal([]string{"github.com", "wikipedia.org"}))

			Expect(blockedLookup(bg.DNSAddr(), "news.example.com")).To(BeFalse())
		})

		It("should register the daemon for CLI discovery", func() {
			registry := infra.NewFileRegistry(dataDir, infra.NewProcessManager())
			info, err := registry.Get()
			Expect(err).NotTo(HaveOccurred())
			Expect(info).NotTo(BeNil())
			Expect(info.PID).To(Equal(os.Getpid()))
			Expect(info.ControlAddr).To(Equal(bg.ControlAddr()))
		})
	})

	Describe("manual blocking", func() {
		It("should block everything except allowed sites", func() {
			result, err := client.ToggleBlocking(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Enabled).To(BeTrue())

			Expect(blockedLookup(bg.DNSAddr(), "news.example.com")).To(BeTrue())
			Expect(blockedLookup(bg.DNSAddr(), "github.com")).To(BeFalse())
			Expect(blockedLookup(bg.DNSAddr(), "www.wikipedia.org")).To(BeFalse())
		})

		It("should rebuild rules when the allow-list changes", func() {
			_, err := client.ToggleBlocking(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(client.UpdateAllowedSites(ctx, []string{"news.example.com"})).To(Succeed())

			Expect(blockedLookup(bg.DNSAddr(), "news.example.com")).To(BeFalse())
			Expect(blockedLookup(bg.DNSAddr(), "github.com")).To(BeTrue())
		})
	})

	Describe("focus timer", func() {
		It("should refuse toggling while running", func() {
			Expect(client.StartTimer(ctx, 25)).To(Succeed())

			_, err := client.ToggleBlocking(ctx)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("timer mode"))

			remaining, err := client.GetRemainingTime(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(*remaining).To(Equal(25 * 60))
		})

		It("should survive a restart and expire when overdue", func() {
			Expect(client.StartTimer(ctx, 25)).To(Succeed())
			stop()

			clock.Advance(10 * time.Minute)
			start()

			remaining, err := client.GetRemainingTime(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(*remaining).To(Equal(15 * 60))
			Expect(blockedLookup(bg.DNSAddr(), "news.example.com")).To(BeTrue())

			stop()
			clock.Advance(time.Hour)
			start()

			status, err := client.GetStatus(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.TimerMode).To(BeFalse())
			Expect(status.BlockingEnabled).To(BeFalse())
			Expect(status.TimerDuration).To(Equal(25))
			Expect(notifier.Count()).To(Equal(1))
			Expect(blockedLookup(bg.DNSAddr(), "news.example.com")).To(BeFalse())
		})
	})

	Describe("unknown actions", func() {
		It("should answer with an error object", func() {
			err := client.Send(ctx, router.Message{Action: "selfDestruct"}, nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(Equal(router.UnknownActionMessage))
		})
	})
})
