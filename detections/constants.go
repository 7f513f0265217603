package detections

const (
	InputWidth  = 640
	InputHeight = 640
	NumAnchors  = 8400

	VehicleConfThreshold = 0.45
	DamageConfThreshold  = 0.45
	MinDamageArea        = 0.002

	RetryAttempts = 3
	RetryDelayMs  = 100
)
