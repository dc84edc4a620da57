package diffdrive

import (
	"math"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/diffdrive/spatialmath"
)

var t0 = time.Unix(1700000000, 0)

func newTestEstimator(t *testing.T, cfg Config) *Estimator {
	t.Helper()
	e, err := NewEstimator(cfg, t0)
	test.That(t, err, test.ShouldBeNil)
	return e
}

func at(seconds float64) time.Time {
	return t0.Add(time.Duration(seconds * float64(time.Second)))
}

func TestOdometryScenario(t *testing.T) {
	e := newTestEstimator(t, testConfig())
	test.That(t, e.State().Pose, test.ShouldResemble, spatialmath.Pose2D{})

	sample, tf := e.Update(1000, 1000, at(1))
	test.That(t, sample.Pose.X, test.ShouldAlmostEqual, 1.0)
	test.That(t, sample.Pose.Y, test.ShouldAlmostEqual, 0.0)
	test.That(t, sample.Pose.Theta, test.ShouldAlmostEqual, 0.0)
	test.That(t, sample.Twist.Linear.X, test.ShouldAlmostEqual, 1.0)
	test.That(t, sample.Twist.Angular.Z, test.ShouldAlmostEqual, 0.0)
	test.That(t, sample.DegenerateInterval, test.ShouldBeFalse)
	test.That(t, tf.Translation.X, test.ShouldEqual, 0.0)

	// delta1=-250, delta2=250: u_p=0.5 m, dtheta=1 rad
	sample, tf = e.Update(750, 1250, at(2))
	test.That(t, sample.Pose.X, test.ShouldAlmostEqual, 1.0)
	test.That(t, sample.Pose.Y, test.ShouldAlmostEqual, 0.0)
	test.That(t, sample.Pose.Theta, test.ShouldAlmostEqual, 1.0)
	test.That(t, sample.Twist.Linear.X, test.ShouldAlmostEqual, 0.0)
	test.That(t, sample.Twist.Angular.Z, test.ShouldAlmostEqual, 1.0)
	test.That(t, spatialmath.QuaternionToYaw(sample.Orientation), test.ShouldAlmostEqual, 1.0)

	test.That(t, tf.Translation.X, test.ShouldAlmostEqual, 1.0)
	test.That(t, spatialmath.QuaternionToYaw(tf.Rotation), test.ShouldAlmostEqual, 1.0)

	state := e.State()
	test.That(t, state.Steps1, test.ShouldEqual, int32(750))
	test.That(t, state.Steps2, test.ShouldEqual, int32(1250))
	test.That(t, state.LastSampleTime, test.ShouldEqual, at(2))
}

func TestOdometryStraightAlongHeading(t *testing.T) {
	for _, heading := range []float64{0, math.Pi / 2, 3, -2.2} {
		e := newTestEstimator(t, testConfig())
		e.Reset(EstimatorState{Pose: spatialmath.Pose2D{X: 1, Y: -1, Theta: heading}, LastSampleTime: t0})

		sample, _ := e.Update(500, 500, at(0.5))
		test.That(t, sample.Pose.Theta, test.ShouldEqual, heading)
		test.That(t, sample.Pose.X, test.ShouldAlmostEqual, 1+0.5*math.Cos(heading))
		test.That(t, sample.Pose.Y, test.ShouldAlmostEqual, -1+0.5*math.Sin(heading))
		test.That(t, sample.Twist.Linear.X, test.ShouldAlmostEqual, math.Cos(heading))
		test.That(t, sample.Twist.Linear.Y, test.ShouldAlmostEqual, math.Sin(heading))
	}
}

func TestOdometryPureRotation(t *testing.T) {
	const d = 125
	e := newTestEstimator(t, testConfig())

	sample, _ := e.Update(-d, d, at(1))
	test.That(t, sample.Pose.X, test.ShouldEqual, 0.0)
	test.That(t, sample.Pose.Y, test.ShouldEqual, 0.0)
	test.That(t, sample.Pose.Theta, test.ShouldAlmostEqual, 2.0*d/(1000*0.5))

	// the other direction undoes it
	sample, _ = e.Update(0, 0, at(2))
	test.That(t, sample.Pose.Theta, test.ShouldAlmostEqual, 0.0)
}

func TestOdometryHeadingIsNotWrapped(t *testing.T) {
	e := newTestEstimator(t, testConfig())
	var steps int32
	for i := 1; i <= 10; i++ {
		// one radian per update
		steps += 250
		e.Update(-steps, steps, at(float64(i)))
	}
	test.That(t, e.State().Pose.Theta, test.ShouldAlmostEqual, 10.0)
}

func TestOdometryMotorOptions(t *testing.T) {
	// raw deltas are (100, 300) for every case
	for _, tc := range []struct {
		name     string
		invert1  bool
		invert2  bool
		swap     bool
		expected spatialmath.Pose2D
	}{
		{"none", false, false, false, spatialmath.Pose2D{X: 0.2, Theta: 0.4}},
		{"invert 1", true, false, false, spatialmath.Pose2D{X: 0.1, Theta: 0.8}},
		{"swap", false, false, true, spatialmath.Pose2D{X: 0.2, Theta: -0.4}},
		// motor 2 inversion negates delta1 and leaves delta2 alone. Negating delta2
		// instead would give (0.1, 0) and -0.8 rad.
		{"invert 2 lands on delta1", false, true, false, spatialmath.Pose2D{X: 0.1, Theta: 0.8}},
		{"invert both cancel on delta1", true, true, false, spatialmath.Pose2D{X: 0.2, Theta: 0.4}},
		{"invert 1 then swap", true, false, true, spatialmath.Pose2D{X: 0.1, Theta: -0.8}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.InvertMotor1 = tc.invert1
			cfg.InvertMotor2 = tc.invert2
			cfg.SwapMotors = tc.swap
			sample, _ := newTestEstimator(t, cfg).Update(100, 300, at(1))
			test.That(t, spatialmath.PoseAlmostEqual(sample.Pose, tc.expected, 1e-9), test.ShouldBeTrue)
		})
	}
}

func TestOdometryDegenerateInterval(t *testing.T) {
	e := newTestEstimator(t, testConfig())

	first, _ := e.Update(1000, 1000, at(1))
	test.That(t, first.Twist.Linear.X, test.ShouldAlmostEqual, 1.0)

	t.Run("same timestamp", func(t *testing.T) {
		sample, _ := e.Update(2000, 2000, at(1))
		test.That(t, sample.DegenerateInterval, test.ShouldBeTrue)
		test.That(t, sample.Pose.X, test.ShouldAlmostEqual, 2.0)
		test.That(t, sample.Twist, test.ShouldResemble, first.Twist)
		assertFinite(t, sample)
	})

	t.Run("time going backwards", func(t *testing.T) {
		sample, _ := e.Update(2500, 2500, at(0.5))
		test.That(t, sample.DegenerateInterval, test.ShouldBeTrue)
		test.That(t, sample.Pose.X, test.ShouldAlmostEqual, 2.5)
		assertFinite(t, sample)
		test.That(t, e.State().LastSampleTime, test.ShouldEqual, at(1))
	})

	t.Run("recovers once time advances", func(t *testing.T) {
		sample, _ := e.Update(3500, 3500, at(3))
		test.That(t, sample.DegenerateInterval, test.ShouldBeFalse)
		test.That(t, sample.Pose.X, test.ShouldAlmostEqual, 3.5)
		test.That(t, sample.Twist.Linear.X, test.ShouldAlmostEqual, 0.5)
		test.That(t, e.State().LastSampleTime, test.ShouldEqual, at(3))
	})

	t.Run("first update at the start time", func(t *testing.T) {
		e := newTestEstimator(t, testConfig())
		sample, _ := e.Update(10, 20, t0)
		test.That(t, sample.DegenerateInterval, test.ShouldBeTrue)
		test.That(t, sample.Twist, test.ShouldResemble, Twist{})
		assertFinite(t, sample)
	})
}

func TestOdometryCounterRollover(t *testing.T) {
	e := newTestEstimator(t, testConfig())
	e.Reset(EstimatorState{Steps1: math.MaxInt32 - 10, Steps2: math.MinInt32 + 10, LastSampleTime: t0})

	// motor 1 wraps forward past MaxInt32, motor 2 wraps backward past MinInt32
	sample, _ := e.Update(math.MinInt32+9, math.MaxInt32-9, at(1))
	// deltas are +20 and -20
	test.That(t, sample.Pose.X, test.ShouldAlmostEqual, 0.0)
	test.That(t, sample.Pose.Theta, test.ShouldAlmostEqual, -40.0/1000/0.5)
}

func TestOdometryOutputFrames(t *testing.T) {
	cfg := testConfig()
	cfg.FramePrefix = "rover"
	cfg.VarPosX = 0.1
	cfg.VarPosY = 0.2
	cfg.VarThetaZ = 0.3
	sample, tf := newTestEstimator(t, cfg).Update(0, 0, at(1))

	test.That(t, sample.Time, test.ShouldEqual, at(1))
	test.That(t, sample.FrameID, test.ShouldEqual, "rover/odom")
	test.That(t, sample.ChildFrameID, test.ShouldEqual, "rover/base_footprint")
	test.That(t, tf.Parent, test.ShouldEqual, "rover/odom")
	test.That(t, tf.Child, test.ShouldEqual, "rover/base_footprint")
	test.That(t, tf.Time, test.ShouldEqual, at(1))

	flat := spatialmath.CovarianceRowMajor(sample.Covariance)
	test.That(t, flat[0], test.ShouldEqual, 0.1)
	test.That(t, flat[7], test.ShouldEqual, 0.2)
	test.That(t, flat[35], test.ShouldEqual, 0.3)
}

func TestOdometryDeterminism(t *testing.T) {
	cfg := testConfig()
	cfg.InvertMotor1 = true
	a := newTestEstimator(t, cfg)
	b := newTestEstimator(t, cfg)

	counts := [][2]int32{{10, 20}, {-40, 90}, {300, 310}, {300, 310}, {1200, -5}, {1150, 60}}
	for i, c := range counts {
		now := at(0.1 * float64(i+1))
		sa, _ := a.Update(c[0], c[1], now)
		sb, _ := b.Update(c[0], c[1], now)
		test.That(t, sa.Pose, test.ShouldResemble, sb.Pose)
		test.That(t, sa.Twist, test.ShouldResemble, sb.Twist)
	}
	test.That(t, a.State(), test.ShouldResemble, b.State())
}

func TestNewEstimatorRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.StepsPerMeter = 0
	_, err := NewEstimator(cfg, t0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "steps_per_meter")
}

func assertFinite(t *testing.T, sample OdometrySample) {
	t.Helper()
	test.That(t, sample.Pose.IsFinite(), test.ShouldBeTrue)
	for _, v := range []float64{
		sample.Twist.Linear.X, sample.Twist.Linear.Y, sample.Twist.Linear.Z,
		sample.Twist.Angular.X, sample.Twist.Angular.Y, sample.Twist.Angular.Z,
	} {
		test.That(t, math.IsNaN(v) || math.IsInf(v, 0), test.ShouldBeFalse)
	}
}
