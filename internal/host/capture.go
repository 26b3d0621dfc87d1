package host

import (
	"fmt"
	"image"
	_ "image/jpeg" // decoder for screenshot tools
	_ "image/png"  // decoder for screenshot tools
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Capturer grabs one full-resolution frame of the desktop.
type Capturer interface {
	Capture() (image.Image, error)
}

const (
	testPatternWidth  = 800
	testPatternHeight = 600
)

// ScreenCapturer shells out to the platform screenshot tool and falls back
// to a test pattern when no tool works, so a headless host still streams.
type ScreenCapturer struct {
	display  int
	warnOnce sync.Once
}

func NewScreenCapturer() *ScreenCapturer {
	return &ScreenCapturer{display: 1}
}

func (c *ScreenCapturer) Capture() (image.Image, error) {
	img, err := c.captureTool()
	if err != nil {
		c.warnOnce.Do(func() {
			log.Printf("Screen capture unavailable (%v), streaming test pattern", err)
		})
		return TestPattern(testPatternWidth, testPatternHeight, time.Now()), nil
	}
	return img, nil
}

func (c *ScreenCapturer) captureTool() (image.Image, error) {
	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("screen_%d.png", time.Now().UnixNano()))
	defer os.Remove(tmp)

	var err error
	switch runtime.GOOS {
	case "darwin":
		err = exec.Command("screencapture", "-x", "-t", "png", "-C", "-D", fmt.Sprint(c.display), tmp).Run()
	case "linux":
		err = captureLinux(tmp)
	case "windows":
		err = captureWindows(tmp)
	default:
		err = fmt.Errorf("no capture tool for %s", runtime.GOOS)
	}
	if err != nil {
		return nil, err
	}

	f, err := os.Open(tmp)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

func captureLinux(tmp string) error {
	if err := exec.Command("gnome-screenshot", "-f", tmp).Run(); err == nil {
		return nil
	}
	if err := exec.Command("scrot", "-o", tmp).Run(); err == nil {
		return nil
	}
	return exec.Command("import", "-window", "root", tmp).Run()
}

func captureWindows(tmp string) error {
	script := fmt.Sprintf(`
Add-Type -AssemblyName System.Windows.Forms
Add-Type -AssemblyName System.Drawing
$screen = [System.Windows.Forms.Screen]::PrimaryScreen.Bounds
$bitmap = New-Object System.Drawing.Bitmap($screen.Width, $screen.Height)
$graphics = [System.Drawing.Graphics]::FromImage($bitmap)
$graphics.CopyFromScreen($screen.Location, [System.Drawing.Point]::Empty, $screen.Size)
$bitmap.Save('%s', [System.Drawing.Imaging.ImageFormat]::Png)
$graphics.Dispose()
$bitmap.Dispose()
`, tmp)
	return exec.Command("powershell", "-NoProfile", "-Command", script).Run()
}

// TestPattern draws a gradient with a grid and a dot that moves with the
// clock's seconds.
func TestPattern(width, height int, now time.Time) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	pix := img.Pix
	stride := img.Stride

	for y := 0; y < height; y++ {
		g := uint8(50 + (y * 100 / height))
		off := y * stride
		for x := 0; x < width; x++ {
			i := off + x*4
			pix[i+0] = uint8(50 + (x * 100 / width))
			pix[i+1] = g
			pix[i+2] = 100
			pix[i+3] = 255
		}
	}

	for x := 0; x < width; x += 50 {
		for y := 0; y < height; y++ {
			i := y*stride + x*4
			pix[i], pix[i+1], pix[i+2] = 255, 255, 255
		}
	}
	for y := 0; y < height; y += 50 {
		off := y * stride
		for x := 0; x < width; x++ {
			i := off + x*4
			pix[i], pix[i+1], pix[i+2] = 255, 255, 255
		}
	}

	cx := (now.Second() * width) / 60
	for dy := -5; dy <= 5; dy++ {
		for dx := -5; dx <= 5; dx++ {
			if dx*dx+dy*dy > 25 {
				continue
			}
			px, py := cx+dx, height/2+dy
			if px >= 0 && px < width && py >= 0 && py < height {
				i := py*stride + px*4
				pix[i], pix[i+1], pix[i+2] = 255, 100, 100
			}
		}
	}
	return img
}
