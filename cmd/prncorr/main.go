// Command prncorr analyses a saved RX capture: it correlates the capture
// against the transmitted gold code, averages the pulse echo profile and
// reports the strongest spectral line.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/rjboer/duplexradar/internal/capture"
	"github.com/rjboer/duplexradar/internal/config"
	"github.com/rjboer/duplexradar/internal/dsp"
	"github.com/rjboer/duplexradar/internal/iq"
	"github.com/rjboer/duplexradar/internal/logging"
	"github.com/rjboer/duplexradar/internal/store"
)

type options struct {
	capturePath string
	recordPath  string
	dbPath      string
	session     string

	prn            int
	samplesPerChip int
	window         int
	coherent       bool

	pulsePeriod int
	lead        int
	length      int

	fftSize int
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "prncorr: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "prncorr: %v\n", err)
		os.Exit(1)
	}
}

func parseOptions(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("prncorr", flag.ContinueOnError)
	fs.StringVar(&o.capturePath, "capture", "./bladerf_samples.dat", "Capture file (raw or .parquet)")
	fs.StringVar(&o.recordPath, "record", config.DefaultPath, "Configuration record of the capture")
	fs.StringVar(&o.dbPath, "db", "", "Session database to resolve -session against")
	fs.StringVar(&o.session, "session", "", "Analyse the capture of this recorded session")
	fs.IntVar(&o.prn, "prn", 1, "Gold code PRN")
	fs.IntVar(&o.samplesPerChip, "samples-per-chip", 1, "Samples per chip of the transmitted code")
	fs.IntVar(&o.window, "window", 2048, "Code repetition period in samples (TX samples per buffer)")
	fs.BoolVar(&o.coherent, "coherent", false, "Average windows coherently before correlating")
	fs.IntVar(&o.pulsePeriod, "pulse-period", 256, "Pulse repetition period in samples")
	fs.IntVar(&o.lead, "lead", 16, "Samples kept ahead of the strongest return")
	fs.IntVar(&o.length, "length", 128, "Samples of pulse trace reported")
	fs.IntVar(&o.fftSize, "fft", 4096, "Spectrum size")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if (o.session == "") != (o.dbPath == "") {
		return options{}, errors.New("-session and -db go together")
	}
	return o, nil
}

func run(o options, out io.Writer) error {
	if o.session != "" {
		st, err := store.Open(o.dbPath, logging.Default())
		if err != nil {
			return err
		}
		sess, err := st.Get(o.session)
		st.Close()
		if err != nil {
			return err
		}
		o.capturePath = sess.CapturePath
	}

	words, err := capture.Load(o.capturePath)
	if err != nil {
		return err
	}
	rec, err := config.Load(o.recordPath)
	if err != nil {
		return err
	}
	a, err := analyse(words, rec, o)
	if err != nil {
		return err
	}
	a.print(out)
	return nil
}

type analysis struct {
	Samples    int
	SampleRate uint64

	PRN       int
	CodeLag   int
	CodePeak  float64
	CodeRatio float64 // peak over mean correlation, in dB

	PulsePeak  int
	PulseTrace []float64

	SpectrumPeakHz float64
}

func analyse(words []int16, rec config.Record, o options) (analysis, error) {
	samples := iq.Complex(words)
	a := analysis{Samples: len(samples), SampleRate: rec.RXSR, PRN: o.prn}

	code, err := dsp.GoldCode(o.prn)
	if err != nil {
		return analysis{}, err
	}
	chips := dsp.Resample(code, o.samplesPerChip)
	if o.window < len(chips) {
		return analysis{}, fmt.Errorf("window %d shorter than the %d-sample code", o.window, len(chips))
	}
	// The code leads every window and the rest of it is silent.
	template := make([]complex128, o.window)
	for i, c := range chips {
		template[i] = complex(float64(c), 0)
	}
	corr, err := dsp.NewCorrelator(template)
	if err != nil {
		return analysis{}, err
	}
	var r []float64
	if o.coherent {
		r = corr.CorrelateAveraged(samples)
	} else {
		r = corr.PowerAveraged(samples)
	}
	if r == nil {
		return analysis{}, fmt.Errorf("capture of %d samples is shorter than one %d-sample window", len(samples), o.window)
	}
	a.CodeLag, a.CodePeak = dsp.Peak(r)
	mean := 0.0
	for _, v := range r {
		mean += v
	}
	mean /= float64(len(r))
	if mean > 0 {
		a.CodeRatio = 10 * math.Log10(a.CodePeak/mean)
		if o.coherent {
			// Magnitude, not power.
			a.CodeRatio *= 2
		}
	}

	if tr, ok := dsp.PulseTrace(samples, o.pulsePeriod, o.lead, o.length); ok {
		a.PulsePeak = tr.Peak
		a.PulseTrace = tr.Power
	}

	spec := dsp.NewSpectrum(o.fftSize)
	a.SpectrumPeakHz = dsp.PeakFrequency(spec.DBFS(samples), float64(rec.RXSR))
	return a, nil
}

func (a analysis) print(w io.Writer) {
	fmt.Fprintf(w, "%-30s %13d\n", "Samples:", a.Samples)
	fmt.Fprintf(w, "%-30s %12dsps\n", "Sampling rate:", a.SampleRate)
	fmt.Fprintf(w, "%-30s %13d\n", "PRN:", a.PRN)
	fmt.Fprintf(w, "%-30s %13d\n", "Code delay (samples):", a.CodeLag)
	if a.SampleRate > 0 {
		delay := float64(a.CodeLag) / float64(a.SampleRate)
		fmt.Fprintf(w, "%-30s %13.1fm\n", "Code range:", delay*299_792_458/2)
	}
	fmt.Fprintf(w, "%-30s %13.1fdB\n", "Code peak to mean:", a.CodeRatio)
	fmt.Fprintf(w, "%-30s %13d\n", "Pulse echo (samples):", a.PulsePeak)
	fmt.Fprintf(w, "%-30s %13.0fHz\n", "Spectrum peak offset:", a.SpectrumPeakHz)
	if len(a.PulseTrace) > 0 {
		fmt.Fprintln(w, "Pulse trace:")
		for i, v := range a.PulseTrace {
			fmt.Fprintf(w, "%5d %.6f\n", i, v)
		}
	}
}
