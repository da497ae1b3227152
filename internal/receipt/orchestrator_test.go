package receipt

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/return-pocket/internal/location"
	"github.com/zombor/return-pocket/internal/scanning"
)

var _ = Describe("Orchestrator", func() {
	var (
		ctx          context.Context
		store        *mockStore
		preprocessor *mockPreprocessor
		recognizer   *mockRecognizer
		barcodes     *mockBarcodeReader
		resolver     *mockResolver
		events       chan Event
		timeSrc      *mockTimeSource
		orchestrator *Orchestrator
		request      ScanRequest
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newMockStore()
		preprocessor = &mockPreprocessor{}
		recognizer = &mockRecognizer{text: "ALDI STORES\nDEPOSIT RETURN\nVOUCHER €2.30\n"}
		barcodes = &mockBarcodeReader{data: "2000123456789"}
		resolver = &mockResolver{address: "Aldi, Main Street, Swords, K67"}
		events = make(chan Event, 32)
		timeSrc = &mockTimeSource{now: time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)}
		request = ScanRequest{ImagePath: "/captures/abc_receipt.jpg", ImageRef: "abc_receipt.jpg"}
	})

	JustBeforeEach(func() {
		orchestrator = NewOrchestrator(store, preprocessor, recognizer,
			WithBarcodeReader(barcodes),
			WithLocationResolver(resolver),
			WithEvents(events),
			WithTimeSource(timeSrc),
		)
	})

	drain := func() []State {
		var states []State
		for {
			select {
			case e := <-events:
				states = append(states, e.State)
			default:
				return states
			}
		}
	}

	It("should start idle", func() {
		Expect(orchestrator.State()).To(Equal(Idle))
		_, ok := orchestrator.Draft()
		Expect(ok).To(BeFalse())
	})

	Describe("Scan", func() {
		var (
			draft *Receipt
			err   error
		)

		JustBeforeEach(func() {
			draft, err = orchestrator.Scan(ctx, request)
		})

		When("every step succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should build the draft from the extracted fields", func() {
				Expect(draft.StoreName).To(Equal(scanning.Aldi))
				Expect(draft.TotalAmount.Equal(decimal.RequireFromString("2.30"))).To(BeTrue())
				Expect(draft.Points).To(Equal(int64(230)))
			})

			It("should record barcode, location, capture and time", func() {
				Expect(draft.BarcodeData).To(Equal("2000123456789"))
				Expect(draft.Location).To(Equal("Aldi, Main Street, Swords, K67"))
				Expect(draft.ImagePath).To(Equal("abc_receipt.jpg"))
				Expect(draft.Timestamp).To(Equal(timeSrc.now))
				Expect(draft.ID).To(BeZero())
			})

			It("should preprocess the capture path", func() {
				Expect(preprocessor.paths).To(Equal([]string{"/captures/abc_receipt.jpg"}))
			})

			It("should await confirmation without writing", func() {
				Expect(orchestrator.State()).To(Equal(AwaitingConfirmation))
				Expect(store.count()).To(Equal(0))
			})

			It("should emit each transition in order", func() {
				states := drain()
				Expect(states).To(Equal([]State{
					BarcodeScanning,
					LocationResolving,
					ImageProcessing,
					TextRecognizing,
					FieldExtracting,
					AwaitingConfirmation,
				}))
			})

			It("should flag the end of the barcode step", func() {
				var scanned []Event
				for _, s := range drain() {
					if e := (Event{State: s}); e.BarcodeScanned() {
						scanned = append(scanned, e)
					}
				}
				Expect(scanned).To(HaveLen(1))
			})
		})

		When("the client already scanned the barcode", func() {
			BeforeEach(func() {
				request.Barcode = "CLIENT-123"
			})

			It("should use it and skip the reader", func() {
				Expect(draft.BarcodeData).To(Equal("CLIENT-123"))
				Expect(barcodes.calls).To(BeZero())
			})
		})

		When("the barcode cannot be read", func() {
			BeforeEach(func() {
				barcodes.err = scanning.ErrNoBarcode
			})

			It("should continue with an empty barcode", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(draft.BarcodeData).To(BeEmpty())
			})
		})

		When("the location cannot be resolved", func() {
			BeforeEach(func() {
				resolver.err = location.ErrNoPosition
			})

			It("should continue with an unknown location", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(draft.Location).To(Equal(location.Unknown))
			})
		})

		When("no retailer is named", func() {
			BeforeEach(func() {
				recognizer.text = "CORNER SHOP\n1.20"
			})

			It("should attribute the receipt to Other", func() {
				Expect(draft.StoreName).To(Equal(scanning.Other))
				Expect(draft.Points).To(Equal(int64(120)))
			})
		})

		When("no amount is found", func() {
			BeforeEach(func() {
				recognizer.text = "TESCO\nTHANK YOU"
			})

			It("should use a zero amount and no points", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(draft.TotalAmount.IsZero()).To(BeTrue())
				Expect(draft.Points).To(BeZero())
			})
		})

		When("the image cannot be loaded", func() {
			BeforeEach(func() {
				preprocessor.err = scanning.ErrImageLoad
			})

			It("should return ErrExtraction wrapping the cause", func() {
				Expect(err).To(MatchError(ErrExtraction))
				Expect(err).To(MatchError(scanning.ErrImageLoad))
				Expect(draft).To(BeNil())
			})

			It("should return to idle without a draft", func() {
				Expect(orchestrator.State()).To(Equal(Idle))
				_, ok := orchestrator.Draft()
				Expect(ok).To(BeFalse())
			})
		})

		When("OCR fails", func() {
			BeforeEach(func() {
				recognizer.err = errors.New("tesseract crashed")
			})

			It("should return ErrExtraction and return to idle", func() {
				Expect(err).To(MatchError(ErrExtraction))
				Expect(orchestrator.State()).To(Equal(Idle))
				Expect(store.count()).To(Equal(0))
			})
		})

		When("no barcode reader or resolver is configured", func() {
			JustBeforeEach(func() {
				bare := NewOrchestrator(store, preprocessor, recognizer)
				draft, err = bare.Scan(ctx, request)
			})

			It("should still produce a draft", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(draft.BarcodeData).To(BeEmpty())
				Expect(draft.Location).To(Equal(location.Unknown))
			})
		})
	})

	When("a scan is already running", func() {
		BeforeEach(func() {
			recognizer.block = make(chan struct{})
		})

		It("should reject a second scan with ErrScanInProgress", func() {
			done := make(chan error, 1)
			go func() {
				_, err := orchestrator.Scan(ctx, request)
				done <- err
			}()
			Eventually(orchestrator.State).Should(Equal(TextRecognizing))

			_, err := orchestrator.Scan(ctx, request)
			Expect(err).To(MatchError(ErrScanInProgress))

			close(recognizer.block)
			Eventually(done).Should(Receive(BeNil()))
		})
	})

	When("a draft is awaiting confirmation", func() {
		JustBeforeEach(func() {
			_, err := orchestrator.Scan(ctx, request)
			Expect(err).NotTo(HaveOccurred())
			drain()
		})

		It("should reject another scan", func() {
			_, err := orchestrator.Scan(ctx, request)
			Expect(err).To(MatchError(ErrScanInProgress))
		})

		Describe("SelectStore", func() {
			It("should change the store", func() {
				draft, err := orchestrator.SelectStore("tesco")
				Expect(err).NotTo(HaveOccurred())
				Expect(draft.StoreName).To(Equal(scanning.Tesco))
				Expect(draft.Points).To(Equal(int64(230)))
			})

			It("should reject unknown retailers", func() {
				_, err := orchestrator.SelectStore("Walmart")
				Expect(err).To(MatchError(ErrUnknownRetailer))
				d, _ := orchestrator.Draft()
				Expect(d.StoreName).To(Equal(scanning.Aldi))
			})
		})

		Describe("EditAmount", func() {
			It("should replace the amount and reset points", func() {
				draft, err := orchestrator.EditAmount("€3.45")
				Expect(err).NotTo(HaveOccurred())
				Expect(draft.TotalAmount.Equal(decimal.RequireFromString("3.45"))).To(BeTrue())
				Expect(draft.Points).To(BeZero())
			})

			It("should reset points even when the value is unchanged", func() {
				draft, err := orchestrator.EditAmount("2.30")
				Expect(err).NotTo(HaveOccurred())
				Expect(draft.Points).To(BeZero())
			})

			It("should round to two decimals", func() {
				draft, err := orchestrator.EditAmount("1.239")
				Expect(err).NotTo(HaveOccurred())
				Expect(draft.TotalAmount.Equal(decimal.RequireFromString("1.24"))).To(BeTrue())
			})

			DescribeTable("rejecting invalid input",
				func(text string) {
					_, err := orchestrator.EditAmount(text)
					Expect(err).To(MatchError(ErrInvalidAmount))
					d, _ := orchestrator.Draft()
					Expect(d.Points).To(Equal(int64(230)))
				},
				Entry("non-numeric", "two euro"),
				Entry("negative", "-1.00"),
				Entry("empty", ""),
			)
		})

		Describe("Confirm", func() {
			It("should persist the draft and complete", func() {
				saved, err := orchestrator.Confirm(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(saved.ID).To(BeNumerically(">", 0))
				Expect(saved.StoreName).To(Equal(scanning.Aldi))
				Expect(saved.Points).To(Equal(int64(230)))
				Expect(saved.Synced).To(BeFalse())
				Expect(store.count()).To(Equal(1))
				Expect(orchestrator.State()).To(Equal(Completed))
				Expect(drain()).To(Equal([]State{Persisting, Completed}))
			})

			It("should persist user edits", func() {
				_, err := orchestrator.EditAmount("5.00")
				Expect(err).NotTo(HaveOccurred())
				saved, err := orchestrator.Confirm(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(saved.TotalAmount.Equal(decimal.RequireFromString("5.00"))).To(BeTrue())
				Expect(saved.Points).To(BeZero())
			})

			It("should allow a new scan afterwards", func() {
				_, err := orchestrator.Confirm(ctx)
				Expect(err).NotTo(HaveOccurred())
				_, err = orchestrator.Scan(ctx, request)
				Expect(err).NotTo(HaveOccurred())
			})

			When("the store fails", func() {
				BeforeEach(func() {
					store.addErr = errors.New("disk full")
				})

				It("should return ErrPersistence and keep the draft", func() {
					_, err := orchestrator.Confirm(ctx)
					Expect(err).To(MatchError(ErrPersistence))
					Expect(orchestrator.State()).To(Equal(AwaitingConfirmation))
					d, ok := orchestrator.Draft()
					Expect(ok).To(BeTrue())
					Expect(d.Points).To(Equal(int64(230)))
				})

				It("should succeed on retry", func() {
					_, err := orchestrator.Confirm(ctx)
					Expect(err).To(HaveOccurred())
					store.addErr = nil
					_, err = orchestrator.Confirm(ctx)
					Expect(err).NotTo(HaveOccurred())
					Expect(store.count()).To(Equal(1))
				})
			})
		})

		Describe("Cancel", func() {
			It("should discard the draft without writing", func() {
				discarded, err := orchestrator.Cancel()
				Expect(err).NotTo(HaveOccurred())
				Expect(discarded.StoreName).To(Equal(scanning.Aldi))
				Expect(orchestrator.State()).To(Equal(Canceled))
				_, ok := orchestrator.Draft()
				Expect(ok).To(BeFalse())
				Expect(store.count()).To(Equal(0))
			})

			It("should reject confirming afterwards", func() {
				_, err := orchestrator.Cancel()
				Expect(err).NotTo(HaveOccurred())
				_, err = orchestrator.Confirm(ctx)
				Expect(err).To(MatchError(ErrNoDraft))
			})
		})
	})

	When("there is no draft", func() {
		It("should reject draft operations with ErrNoDraft", func() {
			_, err := orchestrator.SelectStore("Aldi")
			Expect(err).To(MatchError(ErrNoDraft))
			_, err = orchestrator.EditAmount("1.00")
			Expect(err).To(MatchError(ErrNoDraft))
			_, err = orchestrator.Confirm(ctx)
			Expect(err).To(MatchError(ErrNoDraft))
			_, err = orchestrator.Cancel()
			Expect(err).To(MatchError(ErrNoDraft))
		})
	})

	When("the event channel is full", func() {
		BeforeEach(func() {
			events = make(chan Event)
		})

		It("should not block the scan", func() {
			_, err := orchestrator.Scan(ctx, request)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})

var _ = Describe("State", func() {
	It("should encode by name", func() {
		text, err := AwaitingConfirmation.MarshalText()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(text)).To(Equal("awaiting_confirmation"))
		Expect(State(99).String()).To(Equal("state(99)"))
	})
})
