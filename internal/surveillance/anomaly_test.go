package surveillance

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type DetectorSuite struct {
	suite.Suite
	detector *Detector
}

func TestDetectorSuite(t *testing.T) {
	suite.Run(t, new(DetectorSuite))
}

func (s *DetectorSuite) SetupTest() {
	s.detector = NewDetector(testPolicy())
}

func (s *DetectorSuite) accept(fused float64) []Anomaly {
	return s.detector.ObserveVerdict(acceptVerdict(fused))
}

func (s *DetectorSuite) reject(fused float64) []Anomaly {
	return s.detector.ObserveVerdict(rejectVerdict(fused))
}

func (s *DetectorSuite) TestAbsenceEpisodes() {
	s.Run("run below threshold raises nothing", func() {
		s.Empty(s.detector.ObserveInconclusive())
	})

	s.Run("threshold run raises once", func() {
		s.Len(s.detector.ObserveInconclusive(), 1)
		s.Empty(s.detector.ObserveInconclusive())
		s.Empty(s.detector.ObserveInconclusive())
	})

	s.Run("conclusive check re-arms the episode", func() {
		s.Empty(s.accept(0.9))
		s.Empty(s.detector.ObserveInconclusive())
		anomalies := s.detector.ObserveInconclusive()
		s.Require().Len(anomalies, 1)
		s.Equal(ViolationAbsence, anomalies[0].Kind)
	})
}

func (s *DetectorSuite) TestIdentityChange() {
	s.Run("needs a full trailing window", func() {
		s.Empty(s.accept(0.9))
		s.Empty(s.accept(0.9))
		s.Empty(s.reject(0.2), "only two accepted checks so far")
	})

	s.Run("sharp drop from a stable baseline flags", func() {
		d := NewDetector(testPolicy())
		d.ObserveVerdict(acceptVerdict(0.90))
		d.ObserveVerdict(acceptVerdict(0.88))
		d.ObserveVerdict(acceptVerdict(0.92))

		anomalies := d.ObserveVerdict(rejectVerdict(0.40))
		s.Require().Len(anomalies, 1)
		s.Equal(ViolationIdentityChange, anomalies[0].Kind)
	})

	s.Run("gradual decline does not flag", func() {
		d := NewDetector(testPolicy())
		for _, score := range []float64{0.90, 0.85, 0.80, 0.75, 0.70, 0.66} {
			s.Empty(d.ObserveVerdict(acceptVerdict(score)))
		}
	})

	s.Run("baseline resets after a hit", func() {
		d := NewDetector(testPolicy())
		d.ObserveVerdict(acceptVerdict(0.90))
		d.ObserveVerdict(acceptVerdict(0.90))
		d.ObserveVerdict(acceptVerdict(0.90))
		s.Len(d.ObserveVerdict(rejectVerdict(0.40)), 1)
		// The next low verdict has no trailing window behind it.
		s.Empty(d.ObserveVerdict(rejectVerdict(0.40)))
	})
}

func (s *DetectorSuite) TestPatternEvasion() {
	dip := func(d *Detector) []Anomaly {
		s.Empty(d.ObserveVerdict(rejectVerdict(0.6)))
		return d.ObserveVerdict(acceptVerdict(0.85))
	}

	s.Run("three isolated dips inside the window flag once", func() {
		d := NewDetector(testPolicy())
		s.Empty(d.ObserveVerdict(acceptVerdict(0.85)))
		s.Empty(dip(d))
		s.Empty(dip(d))
		anomalies := dip(d)
		s.Require().Len(anomalies, 1)
		s.Equal(ViolationPatternEvasion, anomalies[0].Kind)
	})

	s.Run("sustained rejects are not dips", func() {
		d := NewDetector(testPolicy())
		s.Empty(d.ObserveVerdict(acceptVerdict(0.85)))
		for i := 0; i < 6; i++ {
			s.Empty(d.ObserveVerdict(rejectVerdict(0.6)))
		}
		s.Empty(d.ObserveVerdict(acceptVerdict(0.85)), "one long run is one recovery, not many dips")
	})

	s.Run("dips outside the window age out", func() {
		d := NewDetector(testPolicy())
		s.Empty(d.ObserveVerdict(acceptVerdict(0.85)))
		s.Empty(dip(d))
		// Push the first dip out of the 10-check window.
		for i := 0; i < 10; i++ {
			s.Empty(d.ObserveVerdict(acceptVerdict(0.85)))
		}
		s.Empty(dip(d))
		anomalies := dip(d)
		s.Empty(anomalies, "only two dips remain inside the window")
	})
}
