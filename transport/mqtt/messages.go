package mqtt

import (
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/diffdrive/components/base/diffdrive"
	"go.viam.com/diffdrive/spatialmath"
)

type vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func fromVector(v r3.Vector) vector3 {
	return vector3{X: v.X, Y: v.Y, Z: v.Z}
}

func (v vector3) vector() r3.Vector {
	return r3.Vector{X: v.X, Y: v.Y, Z: v.Z}
}

type quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

func fromQuat(q quat.Number) quaternion {
	return quaternion{X: q.Imag, Y: q.Jmag, Z: q.Kmag, W: q.Real}
}

type header struct {
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id,omitempty"`
}

type twistMessage struct {
	Linear  vector3 `json:"linear"`
	Angular vector3 `json:"angular"`
}

func fromTwist(t diffdrive.Twist) twistMessage {
	return twistMessage{Linear: fromVector(t.Linear), Angular: fromVector(t.Angular)}
}

type wheelCommandMessage struct {
	Motor1       int32  `json:"mot1_vel_sps"`
	Motor2       int32  `json:"mot2_vel_sps"`
	Acceleration uint32 `json:"accel_spss"`
}

type encoderMessage struct {
	Motor1 int32 `json:"mot1_enc_steps"`
	Motor2 int32 `json:"mot2_enc_steps"`
}

type poseMessage struct {
	Position    vector3    `json:"position"`
	Orientation quaternion `json:"orientation"`
	Covariance  []float64  `json:"covariance"`
}

type odometryMessage struct {
	Header       header       `json:"header"`
	ChildFrameID string       `json:"child_frame_id"`
	Pose         poseMessage  `json:"pose"`
	Twist        twistMessage `json:"twist"`
}

func fromOdometry(sample diffdrive.OdometrySample) odometryMessage {
	msg := odometryMessage{
		Header:       header{Stamp: sample.Time, FrameID: sample.FrameID},
		ChildFrameID: sample.ChildFrameID,
		Pose: poseMessage{
			Position:    vector3{X: sample.Pose.X, Y: sample.Pose.Y},
			Orientation: fromQuat(sample.Orientation),
		},
		Twist: fromTwist(sample.Twist),
	}
	if sample.Covariance != nil {
		msg.Pose.Covariance = spatialmath.CovarianceRowMajor(sample.Covariance)
	}
	return msg
}

type transformMessage struct {
	Header       header     `json:"header"`
	ChildFrameID string     `json:"child_frame_id"`
	Translation  vector3    `json:"translation"`
	Rotation     quaternion `json:"rotation"`
}

func fromTransform(tf diffdrive.Transform) transformMessage {
	return transformMessage{
		Header:       header{Stamp: tf.Time, FrameID: tf.Parent},
		ChildFrameID: tf.Child,
		Translation:  fromVector(tf.Translation),
		Rotation:     fromQuat(tf.Rotation),
	}
}
