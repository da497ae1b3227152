package receipt

import (
	"fmt"

	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/return-pocket/internal/scanning"
)

var _ = Describe("Summarize", func() {
	var (
		receipts []*Receipt
		stats    Stats
	)

	JustBeforeEach(func() {
		stats = Summarize(receipts)
	})

	When("there are no receipts", func() {
		BeforeEach(func() {
			receipts = nil
		})

		It("should report zeros", func() {
			Expect(stats.TotalReceipts).To(BeZero())
			Expect(stats.TotalPoints).To(BeZero())
			Expect(stats.TotalBottles).To(BeZero())
			Expect(stats.MoneySaved.IsZero()).To(BeTrue())
			Expect(stats.TopStores).To(BeEmpty())
		})

		It("should lock every achievement", func() {
			Expect(stats.Achievements).To(HaveLen(4))
			for _, a := range stats.Achievements {
				Expect(a.Achieved).To(BeFalse(), a.Name)
			}
		})
	})

	When("receipts exist", func() {
		BeforeEach(func() {
			receipts = []*Receipt{
				{StoreName: scanning.Aldi, Points: 230, TotalAmount: decimal.RequireFromString("2.30"), Location: "Swords"},
				{StoreName: scanning.Aldi, Points: 70, TotalAmount: decimal.RequireFromString("0.70"), Location: "Swords"},
				{StoreName: scanning.Tesco, Points: 150, TotalAmount: decimal.RequireFromString("1.50"), Location: "Malahide"},
				{StoreName: scanning.Lidl, Points: 15, TotalAmount: decimal.RequireFromString("0.15"), Location: "Howth"},
				{StoreName: scanning.Spar, Points: 15, TotalAmount: decimal.RequireFromString("0.15"), Location: "Howth"},
			}
		})

		It("should total receipts, points and money", func() {
			Expect(stats.TotalReceipts).To(Equal(5))
			Expect(stats.TotalPoints).To(Equal(int64(480)))
			Expect(stats.MoneySaved.Equal(decimal.RequireFromString("4.80"))).To(BeTrue())
		})

		It("should convert points to bottles", func() {
			Expect(stats.TotalBottles).To(Equal(int64(32)))
		})

		It("should derive the environmental figures from bottles", func() {
			Expect(stats.CO2SavedKg.Equal(decimal.RequireFromString("2.56"))).To(BeTrue())
			Expect(stats.LandfillKg.Equal(decimal.RequireFromString("0.32"))).To(BeTrue())
		})

		It("should rank the top three stores", func() {
			Expect(stats.TopStores).To(Equal([]StoreBottles{
				{Name: "Aldi", Logo: "aldi.png", Bottles: 20},
				{Name: "Tesco", Logo: "tesco.png", Bottles: 10},
				{Name: "Lidl", Logo: "lidl.png", Bottles: 1},
			}))
		})

		It("should unlock First Return only", func() {
			Expect(stats.Achievements[0].Achieved).To(BeTrue())
			Expect(stats.Achievements[1].Achieved).To(BeFalse())
			Expect(stats.Achievements[2].Achieved).To(BeFalse())
			Expect(stats.Achievements[3].Achieved).To(BeFalse())
		})
	})

	When("per-receipt counts are fractional", func() {
		BeforeEach(func() {
			// 10 points is two thirds of a bottle
			receipts = []*Receipt{
				{StoreName: scanning.Centra, Points: 10},
				{StoreName: scanning.Centra, Points: 10},
				{StoreName: scanning.Centra, Points: 10},
			}
		})

		It("should round the exact total overall and each receipt per store", func() {
			Expect(stats.TotalBottles).To(Equal(int64(2)))
			Expect(stats.TopStores[0].Bottles).To(Equal(int64(3)))
		})
	})

	When("the milestones are reached", func() {
		BeforeEach(func() {
			receipts = nil
			for i := 0; i < 10; i++ {
				receipts = append(receipts, &Receipt{
					StoreName: scanning.Dunnes,
					Points:    150,
					Location:  fmt.Sprintf("Branch %d", i),
				})
			}
		})

		It("should unlock Century Club and Eco Warrior", func() {
			Expect(stats.TotalBottles).To(Equal(int64(100)))
			Expect(stats.Achievements[2].Achieved).To(BeTrue())
			Expect(stats.Achievements[3].Achieved).To(BeTrue())
		})

		It("should never unlock Dedicated Recycler", func() {
			Expect(stats.Achievements[1].Name).To(Equal("Dedicated Recycler"))
			Expect(stats.Achievements[1].Achieved).To(BeFalse())
		})
	})
})
