package preprocess

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"
)

func TestPreprocess(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Preprocess Suite")
}

type fakeRunner struct {
	calls  []string
	args   []string
	stdin  []byte
	stdout []byte
	err    error
}

func (f *fakeRunner) Run(_ context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, name)
	f.args = args
	f.stdin = stdin
	return f.stdout, nil, f.err
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

func decodePNG(data []byte) image.Image {
	img, err := png.Decode(bytes.NewReader(data))
	Expect(err).NotTo(HaveOccurred())
	return img
}

func grayAt(img image.Image, x, y int) uint8 {
	return color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
}

var _ = Describe("Preprocessor", func() {
	var (
		runner *fakeRunner
		p      *Preprocessor
		input  []byte
		output []byte
		err    error
	)

	BeforeEach(func() {
		runner = &fakeRunner{}
		p = New(DefaultConfig(), runner, zerolog.Nop())
	})

	JustBeforeEach(func() {
		output, err = p.Process(context.Background(), input)
	})

	When("the image is small and transparent", func() {
		BeforeEach(func() {
			input = encodePNG(image.NewNRGBA(image.Rect(0, 0, 100, 50)))
		})

		It("upscales by at most the maximum factor", func() {
			Expect(err).NotTo(HaveOccurred())
			img := decodePNG(output)
			Expect(img.Bounds().Dx()).To(Equal(300))
			Expect(img.Bounds().Dy()).To(Equal(150))
		})

		It("flattens onto white", func() {
			img := decodePNG(output)
			Expect(grayAt(img, 10, 10)).To(Equal(uint8(255)))
		})

		It("returns a grayscale PNG", func() {
			_, isGray := decodePNG(output).(*image.Gray)
			Expect(isGray).To(BeTrue())
		})
	})

	When("the image is already wide enough", func() {
		BeforeEach(func() {
			img := image.NewRGBA(image.Rect(0, 0, 2000, 20))
			for x := 0; x < 2000; x++ {
				for y := 0; y < 20; y++ {
					img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
				}
			}
			var buf bytes.Buffer
			Expect(jpeg.Encode(&buf, img, nil)).To(Succeed())
			input = buf.Bytes()
		})

		It("keeps its width", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(decodePNG(output).Bounds().Dx()).To(Equal(2000))
		})

		It("does not call the converter", func() {
			Expect(runner.calls).To(BeEmpty())
		})
	})

	When("the format is unknown", func() {
		BeforeEach(func() {
			input = []byte("not an image at all")
			runner.stdout = encodePNG(image.NewGray(image.Rect(0, 0, 600, 10)))
		})

		It("converts it with the external command", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(runner.calls).To(ContainElement("magick"))
			Expect(runner.stdin).To(Equal(input))
			Expect(decodePNG(output).Bounds().Dx()).To(Equal(1800))
		})

		It("asks the converter to apply the camera orientation", func() {
			Expect(runner.args).To(Equal([]string{"-", "-auto-orient", "png:-"}))
		})
	})

	When("the converter fails", func() {
		BeforeEach(func() {
			input = []byte("not an image at all")
			runner.err = errors.New("exit status 1")
		})

		It("returns a preprocessing error", func() {
			Expect(err).To(MatchError(ErrPreprocessing))
			Expect(output).To(BeNil())
		})
	})

	When("the input is empty", func() {
		BeforeEach(func() {
			input = nil
		})

		It("returns a preprocessing error", func() {
			Expect(errors.Is(err, ErrPreprocessing)).To(BeTrue())
		})
	})
})

var _ = Describe("median3", func() {
	It("removes isolated specks", func() {
		img := image.NewNRGBA(image.Rect(0, 0, 5, 5))
		for i := range img.Pix {
			img.Pix[i] = 255
		}
		i := img.PixOffset(2, 2)
		img.Pix[i], img.Pix[i+1], img.Pix[i+2] = 0, 0, 0

		out := median3(img)
		Expect(out.Pix[out.PixOffset(2, 2)]).To(Equal(uint8(255)))
	})
})

var _ = Describe("sniff", func() {
	It("detects HEIC and PDF containers", func() {
		Expect(sniff([]byte("\x00\x00\x00\x18ftypheic0000"))).To(Equal(containerHEIC))
		Expect(sniff([]byte("%PDF-1.7"))).To(Equal(containerPDF))
		Expect(sniff([]byte{0xFF, 0xD8, 0xFF})).To(Equal(containerRaster))
	})
})
