package tracker

import "time"

// kalmanFilter is a 2D constant-velocity Kalman filter over detection
// centers. State vector is [x, y, vx, vy]. Time steps come from frame
// capture timestamps, not the wall clock, so replayed footage tracks
// identically to live capture.
type kalmanFilter struct {
	state       [4]float64
	P           [4][4]float64 // covariance
	q           float64       // process noise scale
	r           float64       // measurement noise
	lastUpdate  time.Time
	initialized bool
}

func newKalmanFilter() *kalmanFilter {
	kf := &kalmanFilter{q: 0.1, r: 10.0}
	for i := 0; i < 4; i++ {
		kf.P[i][i] = 1000.0 // high initial uncertainty
	}
	return kf
}

// Update folds in a new center measurement observed at t and returns
// the filtered position.
func (kf *kalmanFilter) Update(x, y float64, t time.Time) (float64, float64) {
	if !kf.initialized {
		kf.state = [4]float64{x, y, 0, 0}
		kf.lastUpdate = t
		kf.initialized = true
		return x, y
	}

	dt := t.Sub(kf.lastUpdate).Seconds()
	if dt < 0.001 {
		dt = 0.001
	}
	kf.lastUpdate = t

	F := transition(dt)
	Q := processNoise(kf.q, dt)

	// Predict: x = F·x, P = F·P·Fᵀ + Q
	pred := applyTransition(F, kf.state)
	P := addMat(mulFPFt(F, kf.P), Q)

	// Innovation on the two position components.
	innov := [2]float64{x - pred[0], y - pred[1]}
	s0 := P[0][0] + kf.r
	s1 := P[1][1] + kf.r

	// Gain columns for the position measurements.
	var K [4][2]float64
	for i := 0; i < 4; i++ {
		K[i][0] = P[i][0] / s0
		K[i][1] = P[i][1] / s1
	}

	for i := 0; i < 4; i++ {
		kf.state[i] = pred[i] + K[i][0]*innov[0] + K[i][1]*innov[1]
	}

	// P = (I - K·H)·P with H selecting the position rows.
	var newP [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			newP[i][j] = P[i][j] - K[i][0]*P[0][j] - K[i][1]*P[1][j]
		}
	}
	kf.P = newP

	return kf.state[0], kf.state[1]
}

// Predict extrapolates the position dt seconds past the last update.
func (kf *kalmanFilter) Predict(dt float64) (float64, float64) {
	if !kf.initialized {
		return 0, 0
	}
	return kf.state[0] + kf.state[2]*dt, kf.state[1] + kf.state[3]*dt
}

// PredictAt extrapolates the position to an absolute time.
func (kf *kalmanFilter) PredictAt(t time.Time) (float64, float64) {
	if !kf.initialized {
		return 0, 0
	}
	return kf.Predict(t.Sub(kf.lastUpdate).Seconds())
}

func transition(dt float64) [4][4]float64 {
	return [4][4]float64{
		{1, 0, dt, 0},
		{0, 1, 0, dt},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

func processNoise(q, dt float64) [4][4]float64 {
	dt2 := dt * dt
	dt3 := dt2 * dt
	dt4 := dt3 * dt
	return [4][4]float64{
		{q * dt4 / 4, 0, q * dt3 / 2, 0},
		{0, q * dt4 / 4, 0, q * dt3 / 2},
		{q * dt3 / 2, 0, q * dt2, 0},
		{0, q * dt3 / 2, 0, q * dt2},
	}
}

func applyTransition(F [4][4]float64, s [4]float64) [4]float64 {
	var out [4]float64
	for i := 0; i < 4; i++ {
		for k := 0; k < 4; k++ {
			out[i] += F[i][k] * s[k]
		}
	}
	return out
}

func mulFPFt(F, P [4][4]float64) [4][4]float64 {
	var out [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				for l := 0; l < 4; l++ {
					sum += F[i][k] * P[k][l] * F[j][l]
				}
			}
			out[i][j] = sum
		}
	}
	return out
}

func addMat(a, b [4][4]float64) [4][4]float64 {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			a[i][j] += b[i][j]
		}
	}
	return a
}
