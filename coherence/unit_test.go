package coherence_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/oosim/cache"
	"github.com/sarchlab/oosim/coherence"
	"github.com/sarchlab/oosim/interconnect"
)

func recordingCallback(events *[]string) func(cache.CacheCallbackKind, uint64) {
	return func(kind cache.CacheCallbackKind, addr uint64) {
		label := "no_action"
		switch kind {
		case cache.CallbackDataRecv:
			label = "data_recv"
		case cache.CallbackInvalidate:
			label = "invalidate"
		}
		*events = append(*events, label)
	}
}

var _ = Describe("Unit", func() {
	Describe("construction", func() {
		It("rejects zero processors", func() {
			_, err := coherence.New(coherence.Config{Family: coherence.MSI, Processors: 0}, interconnect.NewBus())
			Expect(err).To(HaveOccurred())
		})
	})

	// (S3) MSI coherence handshake: core 0 writes 0x40 (I -> IM via BusWr),
	// then core 1 reads 0x40 (I -> IS via BusRd) while core 0 holds M.
	// Interconnect serializes core 0 first. Final states: core0 = I,
	// core1 = S.
	Describe("S3: MSI coherence handshake", func() {
		It("resolves to (I, S) after core 0 writes then core 1 reads", func() {
			bus := interconnect.NewBus()
			u, err := coherence.New(coherence.Config{Family: coherence.MSI, Processors: 2}, bus)
			Expect(err).NotTo(HaveOccurred())

			var ev0, ev1 []string
			u.RegisterCacheCallback(0, recordingCallback(&ev0))
			u.RegisterCacheCallback(1, recordingCallback(&ev1))

			wait0 := u.PermReq(false, 0x40, 0) // core 0 write
			Expect(wait0).To(BeTrue())
			Expect(u.StateAt(0x40, 0)).To(Equal(coherence.Modified))
			Expect(ev0).To(Equal([]string{"data_recv"}))

			wait1 := u.PermReq(true, 0x40, 1) // core 1 read
			Expect(wait1).To(BeTrue())

			Expect(u.StateAt(0x40, 0)).To(Equal(coherence.Invalid))
			Expect(u.StateAt(0x40, 1)).To(Equal(coherence.Shared))
			Expect(ev1).To(Equal([]string{"data_recv"}))
		})
	})

	Describe("MI", func() {
		It("grants M immediately and serves a peer's request by invalidating", func() {
			bus := interconnect.NewBus()
			u, err := coherence.New(coherence.Config{Family: coherence.MI, Processors: 2}, bus)
			Expect(err).NotTo(HaveOccurred())
			u.RegisterCacheCallback(0, func(cache.CacheCallbackKind, uint64) {})
			u.RegisterCacheCallback(1, func(cache.CacheCallbackKind, uint64) {})

			u.PermReq(false, 0x80, 0)
			Expect(u.StateAt(0x80, 0)).To(Equal(coherence.Modified))

			u.PermReq(false, 0x80, 1)
			Expect(u.StateAt(0x80, 0)).To(Equal(coherence.Invalid))
			Expect(u.StateAt(0x80, 1)).To(Equal(coherence.Modified))
		})
	})

	Describe("MESI silent upgrade", func() {
		It("upgrades Exclusive to Modified without bus traffic", func() {
			bus := interconnect.NewBus()
			u, err := coherence.New(coherence.Config{Family: coherence.MESI, Processors: 1}, bus)
			Expect(err).NotTo(HaveOccurred())
			u.RegisterCacheCallback(0, func(cache.CacheCallbackKind, uint64) {})

			wait := u.PermReq(true, 0x10, 0) // read, alone: I -> IR -> (memory responds) -> E
			Expect(wait).To(BeTrue())
			Expect(u.StateAt(0x10, 0)).To(Equal(coherence.Exclusive))

			wait = u.PermReq(false, 0x10, 0) // write while E: silent upgrade
			Expect(wait).To(BeFalse())
			Expect(u.StateAt(0x10, 0)).To(Equal(coherence.Modified))
		})
	})

	Describe("MESIF forward-owner generalization", func() {
		It("assigns Forward to the lowest-numbered currently-sharing core", func() {
			bus := interconnect.NewBus()
			u, err := coherence.New(coherence.Config{Family: coherence.MESIF, Processors: 3}, bus)
			Expect(err).NotTo(HaveOccurred())
			for core := 0; core < 3; core++ {
				u.RegisterCacheCallback(core, func(cache.CacheCallbackKind, uint64) {})
			}

			u.PermReq(true, 0x20, 2) // core 2 reads alone -> Exclusive
			Expect(u.StateAt(0x20, 2)).To(Equal(coherence.Exclusive))

			u.PermReq(true, 0x20, 1) // core 1 reads: core 2 downgrades, core 1 joins
			// lowest of {1, 2} is 1 -> core 1 is Forward, core 2 is Shared.
			Expect(u.StateAt(0x20, 1)).To(Equal(coherence.Forward))
			Expect(u.StateAt(0x20, 2)).To(Equal(coherence.Shared))

			u.PermReq(true, 0x20, 0) // core 0 joins: becomes the new lowest
			Expect(u.StateAt(0x20, 0)).To(Equal(coherence.Forward))
			Expect(u.StateAt(0x20, 1)).To(Equal(coherence.Shared))
			Expect(u.StateAt(0x20, 2)).To(Equal(coherence.Shared))
		})
	})

	Describe("invl requests", func() {
		It("always resolves locally and immediately, with no_action", func() {
			bus := interconnect.NewBus()
			u, err := coherence.New(coherence.Config{Family: coherence.MSI, Processors: 1}, bus)
			Expect(err).NotTo(HaveOccurred())
			var ev []string
			u.RegisterCacheCallback(0, recordingCallback(&ev))

			u.PermReq(false, 0x40, 0) // core 0 reaches M
			Expect(u.StateAt(0x40, 0)).To(Equal(coherence.Modified))

			wait := u.InvlReq(0x40, 0)
			Expect(wait).To(BeTrue())
			Expect(u.StateAt(0x40, 0)).To(Equal(coherence.Invalid))
			Expect(ev).To(Equal([]string{"data_recv", "no_action"}))
		})
	})
})
