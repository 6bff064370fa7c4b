package receipt

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-scanner/internal/email"
	"github.com/zombor/receipt-scanner/internal/parser"
)

var _ = Describe("BoltDB", func() {
	var (
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	newReceipt := func(id string, created time.Time) *Receipt {
		data := parser.DefaultReceiptData()
		data.MerchantName = "Tesco"
		data.Total = "12.34"
		return &Receipt{
			ID:          id,
			Source:      SourceImage,
			Filename:    id + ".jpg",
			ContentType: "image/jpeg",
			Data:        data,
			CreatedAt:   created,
			UpdatedAt:   created,
		}
	}

	Describe("SaveReceipt and GetReceipt", func() {
		It("round-trips the extracted data", func() {
			Expect(db.SaveReceipt(newReceipt("r1", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))).To(Succeed())

			saved, err := db.GetReceipt("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.Data.MerchantName).To(Equal("Tesco"))
			Expect(saved.Data.Total).To(Equal("12.34"))
			Expect(saved.Data.Items).To(BeEmpty())
		})

		It("stores email receipts", func() {
			Expect(db.SaveReceipt(&Receipt{
				ID:     "e1",
				Source: SourceEmail,
				Email:  &email.ParseResult{Merchant: "Amazon", Amount: "19.99", Currency: "GBP"},
			})).To(Succeed())

			saved, err := db.GetReceipt("e1")
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.Email.Currency).To(Equal("GBP"))
			Expect(saved.Data).To(BeNil())
		})

		It("reports unknown IDs", func() {
			_, err := db.GetReceipt("missing")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("ListReceipts", func() {
		It("returns an empty list for an empty database", func() {
			receipts, err := db.ListReceipts()
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts).NotTo(BeNil())
			Expect(receipts).To(BeEmpty())
		})

		It("returns the newest first", func() {
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			Expect(db.SaveReceipt(newReceipt("a", base))).To(Succeed())
			Expect(db.SaveReceipt(newReceipt("b", base.Add(2*time.Hour)))).To(Succeed())
			Expect(db.SaveReceipt(newReceipt("c", base.Add(time.Hour)))).To(Succeed())

			receipts, err := db.ListReceipts()
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts).To(HaveLen(3))
			Expect([]string{receipts[0].ID, receipts[1].ID, receipts[2].ID}).To(Equal([]string{"b", "c", "a"}))
		})
	})

	Describe("DeleteReceipt", func() {
		It("removes the receipt", func() {
			Expect(db.SaveReceipt(newReceipt("r1", time.Now()))).To(Succeed())
			Expect(db.DeleteReceipt("r1")).To(Succeed())

			_, err := db.GetReceipt("r1")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("reports unknown IDs", func() {
			Expect(db.DeleteReceipt("missing")).To(MatchError(ErrNotFound))
		})
	})

	It("persists across reopen", func() {
		Expect(db.SaveReceipt(newReceipt("r1", time.Now()))).To(Succeed())
		Expect(db.Close()).To(Succeed())

		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
		_, err = db.GetReceipt("r1")
		Expect(err).NotTo(HaveOccurred())
	})
})
