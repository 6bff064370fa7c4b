package receipt

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "uploads"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates the directory", func() {
		Expect(filepath.Join(tmpDir, "uploads")).To(BeADirectory())
	})

	It("saves, reads and deletes files", func() {
		name, err := storage.Save("id_receipt.jpg", []byte("jpeg"))
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("id_receipt.jpg"))
		Expect(filepath.Join(tmpDir, "uploads", name)).To(BeAnExistingFile())

		data, err := storage.Get(name)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte("jpeg")))

		Expect(storage.Delete(name)).To(Succeed())
		Expect(filepath.Join(tmpDir, "uploads", name)).NotTo(BeAnExistingFile())
	})

	It("fails for missing files", func() {
		_, err := storage.Get("missing.jpg")
		Expect(err).To(HaveOccurred())
		Expect(storage.Delete("missing.jpg")).NotTo(Succeed())
	})

	DescribeTable("rejects names outside the directory",
		func(name string) {
			_, err := storage.Save(name, []byte("x"))
			Expect(err).To(MatchError(ContainSubstring("invalid file name")))
		},
		Entry("parent", "../escape.jpg"),
		Entry("nested", "a/b.jpg"),
		Entry("hidden", ".env"),
		Entry("empty", ""),
	)
})
