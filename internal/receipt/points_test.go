package receipt

import (
	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CalculatePoints", func() {
	amount := func(s string) decimal.NullDecimal {
		return decimal.NewNullDecimal(decimal.RequireFromString(s))
	}

	DescribeTable("converting amounts to points",
		func(in decimal.NullDecimal, expected int64) {
			points, err := CalculatePoints(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(points).To(Equal(expected))
		},
		Entry("two decimals", amount("2.30"), int64(230)),
		Entry("one decimal", amount("4.5"), int64(450)),
		Entry("zero", amount("0.00"), int64(0)),
		Entry("rounds half away from zero", amount("0.005"), int64(1)),
		Entry("rounds down below half", amount("1.234"), int64(123)),
		Entry("largest extractable amount", amount("999.99"), int64(99999)),
		Entry("missing amount", decimal.NullDecimal{}, int64(0)),
	)

	When("the amount is negative", func() {
		It("should return ErrInvalidAmount", func() {
			_, err := CalculatePoints(amount("-1.00"))
			Expect(err).To(MatchError(ErrInvalidAmount))
		})
	})
})
