package scanning

import (
	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ExtractFields", func() {
	var (
		text   string
		result Extraction
	)

	JustBeforeEach(func() {
		result = ExtractFields(text)
	})

	When("the receipt names a known retailer and a single amount", func() {
		BeforeEach(func() {
			text = "aldi stores\nreturn voucher\n€2.30\n"
		})

		It("matches the retailer case-insensitively", func() {
			Expect(result.Store).To(Equal(Aldi))
		})

		It("extracts the amount", func() {
			Expect(result.Amount.Valid).To(BeTrue())
			Expect(result.Amount.Decimal.Equal(decimal.RequireFromString("2.30"))).To(BeTrue())
		})
	})

	When("the receipt contains several amounts", func() {
		BeforeEach(func() {
			text = "TESCO IRELAND\nBOTTLE 0.15\nCAN 0.15\nTOTAL EUR12.45\nCHANGE 7.55"
		})

		It("picks the largest", func() {
			Expect(result.Amount.Decimal.Equal(decimal.RequireFromString("12.45"))).To(BeTrue())
		})
	})

	When("two retailers appear on different lines", func() {
		BeforeEach(func() {
			text = "LIDL\nformerly TESCO"
		})

		It("uses the first line with a match", func() {
			Expect(result.Store).To(Equal(Lidl))
		})
	})

	When("one line names two retailers", func() {
		BeforeEach(func() {
			text = "SPAR next to DUNNES"
		})

		It("uses the retailer list order", func() {
			Expect(result.Store).To(Equal(Dunnes))
		})
	})

	When("no retailer is named", func() {
		BeforeEach(func() {
			text = "CORNER SHOP\n1.20"
		})

		It("returns Other", func() {
			Expect(result.Store).To(Equal(Other))
		})
	})

	When("noise characters break up the text", func() {
		BeforeEach(func() {
			text = "*** S|uper-Valu ***\nT0TAL: €3.4#0"
		})

		It("strips them before matching", func() {
			Expect(result.Store).To(Equal(SuperValu))
		})

		It("matches the cleaned amount", func() {
			Expect(result.Amount.Decimal.Equal(decimal.RequireFromString("3.40"))).To(BeTrue())
		})
	})

	When("no amount is present", func() {
		BeforeEach(func() {
			text = "CENTRA\nTHANK YOU"
		})

		It("leaves the amount unset", func() {
			Expect(result.Amount.Valid).To(BeFalse())
		})
	})

	When("numbers lack a decimal point", func() {
		BeforeEach(func() {
			text = "SPAR\nSTORE 1234\nTILL 7"
		})

		It("ignores them", func() {
			Expect(result.Amount.Valid).To(BeFalse())
		})
	})

	When("the text is empty", func() {
		BeforeEach(func() {
			text = ""
		})

		It("returns Other with no amount", func() {
			Expect(result.Store).To(Equal(Other))
			Expect(result.Amount.Valid).To(BeFalse())
		})
	})
})
