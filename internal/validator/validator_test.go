package validator

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"github.com/zombor/receipt-scanner/internal/vocab"
)

func TestValidator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Validator Suite")
}

var _ = Describe("Validator", func() {
	var (
		v      *Validator
		text   string
		result Result
		err    error
	)

	BeforeEach(func() {
		v = New(vocab.Default(), zerolog.Nop())
	})

	JustBeforeEach(func() {
		result, err = v.Validate(text)
	})

	When("the text has a total label and a price", func() {
		BeforeEach(func() {
			text = "Total: £4.20"
		})

		It("accepts it as strong", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsReceipt).To(BeTrue())
			Expect(result.Tier).To(Equal(TierStrong))
		})
	})

	When("the text has prices and a merchant keyword", func() {
		BeforeEach(func() {
			text = "Corner Bakery\nCroissant 2.10\nCoffee 2.80"
		})

		It("accepts it as medium", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Tier).To(Equal(TierMedium))
		})
	})

	When("the text has a currency symbol and enough volume", func() {
		BeforeEach(func() {
			text = "Thanks for visiting\nWidget one\nWidget two\nGadget £12.99\nSee you soon"
		})

		It("accepts it as weak", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Tier).To(Equal(TierWeak))
			Expect(result.Signals.CurrencySymbol).To(BeTrue())
		})
	})

	When("a lone price has too little context", func() {
		BeforeEach(func() {
			text = "£12.99"
		})

		It("rejects it", func() {
			Expect(err).To(MatchError(ErrNotAReceipt))
			Expect(result.IsReceipt).To(BeFalse())
		})
	})

	When("the text is prose", func() {
		BeforeEach(func() {
			text = "It was a bright cold day in April,\nand the clocks were striking thirteen.\nWinston Smith slipped quickly through the glass doors."
		})

		It("rejects it", func() {
			Expect(err).To(MatchError(ErrNotAReceipt))
			Expect(result.Signals.Prices).To(BeZero())
			Expect(result.Signals.CurrencySymbol).To(BeFalse())
		})
	})

	When("the text is empty", func() {
		BeforeEach(func() {
			text = ""
		})

		It("rejects it", func() {
			Expect(err).To(MatchError(ErrNotAReceipt))
		})
	})
})
