package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"github.com/zombor/receipt-scanner/internal/email"
	"github.com/zombor/receipt-scanner/internal/ocr"
	"github.com/zombor/receipt-scanner/internal/parser"
	"github.com/zombor/receipt-scanner/internal/pipeline"
	"github.com/zombor/receipt-scanner/internal/validator"
	"github.com/zombor/receipt-scanner/internal/vocab"
)

type stubPreprocessor struct{}

func (stubPreprocessor) Process(_ context.Context, data []byte) ([]byte, error) {
	return data, nil
}

// stubRecognizer "reads" the upload bytes as text.
type stubRecognizer struct{}

func (stubRecognizer) Recognize(_ context.Context, img []byte) (ocr.Result, error) {
	return ocr.Result{Text: string(img), Confidence: 0.9, Engine: "stub"}, nil
}

var _ = Describe("Receipt service end to end", func() {
	var (
		storageDir string
		db         *BoltDB
		server     *httptest.Server
	)

	BeforeEach(func() {
		tmpDir := GinkgoT().TempDir()
		storageDir = filepath.Join(tmpDir, "uploads")

		var err error
		db, err = NewBoltDB(filepath.Join(tmpDir, "receipts.db"))
		Expect(err).NotTo(HaveOccurred())
		store, err := NewLocalStorage(storageDir)
		Expect(err).NotTo(HaveOccurred())

		v := vocab.Default()
		extractor := pipeline.New(
			stubPreprocessor{}, stubRecognizer{},
			validator.New(v, zerolog.Nop()),
			parser.New(v, parser.Config{}, zerolog.Nop()),
			email.New(v, email.DefaultConfig(), zerolog.Nop()),
			nil, zerolog.Nop(),
		)
		service := NewService(db, extractor, store, zerolog.Nop())
		server = httptest.NewServer(NewServer(service, BasicAuth{}, nil, zerolog.Nop()))
	})

	AfterEach(func() {
		server.Close()
		db.Close()
	})

	upload := func(content string) *http.Response {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("file", "photo.jpg")
		Expect(err).NotTo(HaveOccurred())
		_, err = fw.Write([]byte(content))
		Expect(err).NotTo(HaveOccurred())
		Expect(mw.Close()).To(Succeed())

		resp, err := http.Post(server.URL+"/api/receipts", mw.FormDataContentType(), &body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	uploads := func() []os.DirEntry {
		entries, err := os.ReadDir(storageDir)
		Expect(err).NotTo(HaveOccurred())
		return entries
	}

	It("stores a receipt and serves it back", func() {
		resp := upload("COSTA COFFEE\nLatte 3.20\nCroissant 2.10\nTOTAL £5.30\nCASH £10.00\nCHANGE £4.70")
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var created Receipt
		Expect(json.NewDecoder(resp.Body).Decode(&created)).To(Succeed())
		Expect(created.Data.Total).To(Equal("5.30"))
		Expect(created.Data.PaymentMethod).To(Equal("Cash"))
		Expect(uploads()).To(HaveLen(1))

		get, err := http.Get(server.URL + "/api/receipts/" + created.ID)
		Expect(err).NotTo(HaveOccurred())
		defer get.Body.Close()
		Expect(get.StatusCode).To(Equal(http.StatusOK))

		var fetched Receipt
		Expect(json.NewDecoder(get.Body).Decode(&fetched)).To(Succeed())
		Expect(fetched.Data.MerchantName).To(Equal(created.Data.MerchantName))
		Expect(fetched.OCR.Engine).To(Equal("stub"))
	})

	It("rejects a photo that is not a receipt and keeps nothing", func() {
		resp := upload("A quiet afternoon by the lake with friends and family.")
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

		Expect(uploads()).To(BeEmpty())
		receipts, err := db.ListReceipts()
		Expect(err).NotTo(HaveOccurred())
		Expect(receipts).To(BeEmpty())
	})

	It("stores forwarded emails", func() {
		payload, err := json.Marshal(email.Payload{
			Subject: "Your Starbucks receipt",
			HTML:    "<table><tr><td>Latte</td><td>$4.95</td></tr><tr><td>Total</td><td>$4.95</td></tr></table>",
		})
		Expect(err).NotTo(HaveOccurred())

		resp, err := http.Post(server.URL+"/api/emails", "application/json", bytes.NewReader(payload))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var created Receipt
		Expect(json.NewDecoder(resp.Body).Decode(&created)).To(Succeed())
		Expect(created.Email.Merchant).To(Equal("Starbucks"))
		Expect(created.Email.Amount).To(Equal("4.95"))
	})
})
