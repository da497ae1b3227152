package location

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ContextPositioner", func() {
	var (
		positioner ContextPositioner
		ctx        context.Context
		coords     Coordinates
		err        error
	)

	BeforeEach(func() {
		positioner = ContextPositioner{}
		ctx = context.Background()
	})

	JustBeforeEach(func() {
		coords, err = positioner.Position(ctx)
	})

	When("the context carries coordinates", func() {
		BeforeEach(func() {
			positioner.Fallback = &Coordinates{Latitude: 1, Longitude: 2}
			ctx = WithCoordinates(ctx, Coordinates{Latitude: 53.35, Longitude: -6.26})
		})

		It("prefers them over the fallback", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(coords).To(Equal(Coordinates{Latitude: 53.35, Longitude: -6.26}))
		})
	})

	When("only a fallback is configured", func() {
		BeforeEach(func() {
			positioner.Fallback = &Coordinates{Latitude: 1, Longitude: 2}
		})

		It("returns the fallback", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(coords).To(Equal(Coordinates{Latitude: 1, Longitude: 2}))
		})
	})

	When("nothing is available", func() {
		It("returns ErrNoPosition", func() {
			Expect(err).To(MatchError(ErrNoPosition))
		})
	})
})
