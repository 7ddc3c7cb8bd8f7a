package geom

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func unitVolume(t *testing.T) Volume {
	t.Helper()
	v, err := NewVolume(NewPose(0, 0, 0), 1)
	if err != nil {
		t.Fatalf("NewVolume: %v", err)
	}
	return v
}

func TestNewVolumeRejectsNonPositiveExpanse(t *testing.T) {
	for _, expanse := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := NewVolume(NewPose(0, 0, 0), expanse); !errors.Is(err, ErrInvalidExpanse) {
			t.Errorf("NewVolume(expanse=%v) error = %v, want ErrInvalidExpanse", expanse, err)
		}
	}
}

func TestClampScenario(t *testing.T) {
	v := unitVolume(t)
	got := Clamp(NewPose(2, 0, 0.5), v)
	if got.X != 1 || got.Y != 0 || got.Z != 0.5 {
		t.Errorf("Clamp((2,0,0.5)) = %v, want (1,0,0.5)", got)
	}
}

func TestClampPassesOrientationThrough(t *testing.T) {
	v := unitVolume(t)
	rot := RotationZ(30)
	in := NewPose(-5, 5, 0).WithYaw(42).WithRotation(rot)

	got := Clamp(in, v)
	if got.X != -1 || got.Y != 1 || got.Z != 0 {
		t.Errorf("Clamp position = %v, want (-1,1,0)", got)
	}
	if got.Yaw == nil || *got.Yaw != 42 {
		t.Errorf("Clamp yaw = %v, want 42", got.Yaw)
	}
	if got.Rotation == nil || *got.Rotation != rot {
		t.Error("Clamp dropped the rotation")
	}
	if got.YawOrZero() != 42 {
		t.Errorf("YawOrZero = %v", got.YawOrZero())
	}
}

func TestClampNeverOutside(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	v, err := NewVolume(NewPose(0.5, -0.25, 1), 0.75)
	if err != nil {
		t.Fatal(err)
	}
	lo, hi := v.Min(), v.Max()
	for i := 0; i < 5000; i++ {
		p := NewPose(rng.NormFloat64()*3, rng.NormFloat64()*3, rng.NormFloat64()*3)
		if i%50 == 0 {
			p.Y = math.NaN()
		}
		c := Clamp(p, v)
		if Contains(c, v) {
			continue
		}
		onFace := c.X == lo.X || c.X == hi.X || c.Y == lo.Y || c.Y == hi.Y || c.Z == lo.Z || c.Z == hi.Z
		if !onFace {
			t.Fatalf("Clamp(%v) = %v is outside %v", p, c, v)
		}
	}
}

func TestClampNaNAxisTakesOrigin(t *testing.T) {
	v, err := NewVolume(NewPose(0.5, -0.25, 1), 0.75)
	if err != nil {
		t.Fatal(err)
	}
	got := Clamp(NewPose(math.NaN(), 3, math.NaN()), v)
	if got.X != 0.5 || got.Y != 0.5 || got.Z != 1 {
		t.Errorf("Clamp(NaN, 3, NaN) = %v, want (0.5, 0.5, 1)", got)
	}
	if !got.IsValid() {
		t.Error("Clamp produced a NaN axis")
	}
}

func TestContains(t *testing.T) {
	v := unitVolume(t)
	tests := []struct {
		name string
		p    Pose
		want bool
	}{
		{"origin", NewPose(0, 0, 0), true},
		{"inside", NewPose(0.99, -0.99, 0.5), true},
		{"on +x face", NewPose(1, 0, 0), false},
		{"on -x face", NewPose(-1, 0, 0), false},
		{"on +y face", NewPose(0, 1, 0), false},
		{"on -z face", NewPose(0, 0, -1), false},
		{"outside z", NewPose(0, 0, 1.5), false},
		{"nan", NewPose(math.NaN(), 0, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Contains(tt.p, v); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}
