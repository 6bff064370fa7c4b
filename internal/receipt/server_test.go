package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/rs/zerolog"

	"github.com/zombor/receipt-scanner/internal/email"
	"github.com/zombor/receipt-scanner/internal/ocr"
	"github.com/zombor/receipt-scanner/internal/preprocess"
	"github.com/zombor/receipt-scanner/internal/validator"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *mockExtractor
		auth        BasicAuth
		metrics     http.Handler
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = newMockExtractor()
		auth = BasicAuth{}
		metrics = nil
	})

	JustBeforeEach(func() {
		service := NewServiceWithDeps(db, extractor, storage, &mockIDGenerator{id: "id-1"}, &mockTimeSource{}, zerolog.Nop())
		server := NewServer(service, auth, metrics, zerolog.Nop())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	upload := func(filename string, content []byte) *http.Response {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = fw.Write(content)
		Expect(err).NotTo(HaveOccurred())
		Expect(mw.Close()).To(Succeed())

		resp, err := http.Post(ghttpServer.URL()+"/api/receipts", mw.FormDataContentType(), &body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeError := func(resp *http.Response) string {
		defer resp.Body.Close()
		var body map[string]string
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body["error"]
	}

	Describe("POST /api/receipts", func() {
		It("creates a receipt", func() {
			resp := upload("receipt.jpg", []byte("jpeg"))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var receipt Receipt
			Expect(json.NewDecoder(resp.Body).Decode(&receipt)).To(Succeed())
			Expect(receipt.ID).To(Equal("id-1"))
			Expect(receipt.ContentType).To(Equal("image/jpeg"))
			Expect(receipt.Data.Total).To(Equal("2.55"))
		})

		DescribeTable("maps extraction errors to status codes",
			func(extractErr error, status int) {
				extractor.imageErr = extractErr
				resp := upload("receipt.jpg", []byte("jpeg"))
				Expect(resp.StatusCode).To(Equal(status))
				Expect(decodeError(resp)).NotTo(BeEmpty())
				Expect(storage.files).To(BeEmpty())
			},
			Entry("not a receipt", validator.ErrNotAReceipt, http.StatusUnprocessableEntity),
			Entry("unreadable image", preprocess.ErrPreprocessing, http.StatusBadRequest),
			Entry("no OCR engine", ocr.ErrRecognitionUnavailable, http.StatusBadGateway),
			Entry("anything else", errors.New("boom"), http.StatusInternalServerError),
		)

		It("requires a file", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/receipts", "multipart/form-data; boundary=x", strings.NewReader("--x--\r\n"))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("rejects empty files", func() {
			resp := upload("receipt.jpg", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(resp)).To(ContainSubstring("empty"))
		})
	})

	Describe("POST /api/emails", func() {
		It("creates an email receipt", func() {
			payload, err := json.Marshal(email.Payload{Subject: "Your order", HTML: "<p>Total $5.45</p>"})
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.Post(ghttpServer.URL()+"/api/emails", "application/json", bytes.NewReader(payload))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var receipt Receipt
			Expect(json.NewDecoder(resp.Body).Decode(&receipt)).To(Succeed())
			Expect(receipt.Source).To(Equal(SourceEmail))
			Expect(receipt.Email.Merchant).To(Equal("Starbucks"))
		})

		It("rejects a body without content", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/emails", "application/json", strings.NewReader(`{"subject":"hi"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("rejects invalid JSON", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/emails", "application/json", strings.NewReader(`{`))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("GET /api/receipts", func() {
		When("receipts exist", func() {
			BeforeEach(func() {
				db.receipts["id1"] = &Receipt{ID: "id1"}
				db.receipts["id2"] = &Receipt{ID: "id2"}
			})

			It("returns all receipts", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var receipts []*Receipt
				Expect(json.NewDecoder(resp.Body).Decode(&receipts)).To(Succeed())
				Expect(receipts).To(HaveLen(2))
			})
		})

		When("no receipts exist", func() {
			It("returns an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
			})
		})

		When("listing fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("corrupt")
			})

			It("returns an internal error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("GET /api/receipts/{id}", func() {
		BeforeEach(func() {
			db.receipts["id1"] = &Receipt{ID: "id1", Filename: "id1.png", ContentType: "image/png"}
			storage.files["id1.png"] = []byte("png-data")
		})

		It("returns the receipt", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/id1")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("returns 404 for unknown receipts", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/nope")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("serves the file", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/id1/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal([]byte("png-data")))
		})
	})

	Describe("DELETE /api/receipts/{id}", func() {
		BeforeEach(func() {
			db.receipts["id1"] = &Receipt{ID: "id1"}
		})

		It("deletes the receipt", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/receipts/id1", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
			Expect(db.receipts).To(BeEmpty())
		})

		It("returns 404 for unknown receipts", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/receipts/nope", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			resp.Body.Close()
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("rejects missing credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			resp.Body.Close()
		})

		It("rejects wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})

		It("accepts valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})

		It("leaves the health check open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})

	Describe("GET /metrics", func() {
		BeforeEach(func() {
			metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				io.WriteString(w, "receipt_scanner_extractions_total 1\n")
			})
		})

		It("serves the metrics handler", func() {
			resp, err := http.Get(ghttpServer.URL() + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("receipt_scanner_extractions_total"))
		})
	})
})
