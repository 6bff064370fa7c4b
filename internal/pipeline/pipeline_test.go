package pipeline

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/zombor/receipt-scanner/internal/email"
	"github.com/zombor/receipt-scanner/internal/metrics"
	"github.com/zombor/receipt-scanner/internal/ocr"
	"github.com/zombor/receipt-scanner/internal/parser"
	"github.com/zombor/receipt-scanner/internal/preprocess"
	"github.com/zombor/receipt-scanner/internal/validator"
	"github.com/zombor/receipt-scanner/internal/vocab"
)

func TestPipeline(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pipeline Suite")
}

type fakePreprocessor struct {
	err error
}

func (f *fakePreprocessor) Process(_ context.Context, data []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("processed:"), data...), nil
}

type fakeRecognizer struct {
	got    []byte
	result ocr.Result
	err    error
}

func (f *fakeRecognizer) Recognize(_ context.Context, img []byte) (ocr.Result, error) {
	f.got = img
	return f.result, f.err
}

const receiptText = `SAINSBURY'S
Bananas 1.10
Coffee 3.50
TOTAL £4.60
VISA ****4321
05/06/2024 09:15`

var _ = Describe("Extractor", func() {
	var (
		pre       *fakePreprocessor
		rec       *fakeRecognizer
		extractor *Extractor
		out       *Extraction
		err       error
	)

	BeforeEach(func() {
		pre = &fakePreprocessor{}
		rec = &fakeRecognizer{}
		v := vocab.Default()
		extractor = New(
			pre, rec,
			validator.New(v, zerolog.Nop()),
			parser.New(v, parser.Config{}, zerolog.Nop()),
			email.New(v, email.DefaultConfig(), zerolog.Nop()),
			metrics.New(prometheus.NewRegistry()),
			zerolog.Nop(),
		)
	})

	JustBeforeEach(func() {
		out, err = extractor.ExtractImage(context.Background(), []byte("jpeg"))
	})

	When("the text is a receipt", func() {
		BeforeEach(func() {
			rec.result = ocr.Result{Text: receiptText, Confidence: 0.8, Engine: "tesseract"}
		})

		It("passes the preprocessed image to OCR", func() {
			Expect(rec.got).To(Equal([]byte("processed:jpeg")))
		})

		It("parses the fields", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Data.Total).To(Equal("4.60"))
			Expect(out.Data.PaymentMethod).To(Equal("Visa"))
			Expect(out.Data.Items).To(HaveLen(2))
			Expect(out.Engine).To(Equal("tesseract"))
			Expect(out.Validation.IsReceipt).To(BeTrue())
		})
	})

	When("the text is not a receipt", func() {
		BeforeEach(func() {
			rec.result = ocr.Result{Text: "Dear diary, today was a lovely day at the beach.", Engine: "tesseract"}
		})

		It("rejects it", func() {
			Expect(err).To(MatchError(validator.ErrNotAReceipt))
			Expect(out).To(BeNil())
		})
	})

	When("no text is recognized", func() {
		It("returns the default record", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Data).To(Equal(parser.DefaultReceiptData()))
			Expect(out.Validation).To(BeNil())
		})
	})

	When("preprocessing fails", func() {
		BeforeEach(func() {
			pre.err = preprocess.ErrPreprocessing
		})

		It("returns the error without running OCR", func() {
			Expect(err).To(MatchError(preprocess.ErrPreprocessing))
			Expect(rec.got).To(BeNil())
		})
	})

	When("no OCR engine is available", func() {
		BeforeEach(func() {
			rec.err = errors.Join(ocr.ErrRecognitionUnavailable, errors.New("boom"))
		})

		It("wraps the error", func() {
			Expect(err).To(MatchError(ocr.ErrRecognitionUnavailable))
		})
	})
})

var _ = Describe("ExtractEmail", func() {
	It("parses the payload", func() {
		v := vocab.Default()
		extractor := New(nil, nil, nil, nil, email.New(v, email.DefaultConfig(), zerolog.Nop()), nil, zerolog.Nop())

		res, err := extractor.ExtractEmail(context.Background(), email.Payload{
			Subject: "Your receipt",
			HTML:    "<p>Total: $12.00</p>",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Amount).To(Equal("12.00"))
		Expect(res.Currency).To(Equal("USD"))
	})
})
