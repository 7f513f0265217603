package main

const (
	MsgDamageFound = "Damage detected. The affected panels are highlighted on the blueprint."

	MsgNoDamage = "No damage detected. The vehicle looks clean in this frame."

	MsgNoVehicle = "We couldn't find a vehicle in the frame. Make sure the whole car is visible and try again."

	MsgModelUnavailable = "AI LOAD ERROR"

	MsgUploadVideo = "UPLOAD VIDEO"

	MsgRecordingPending = "The recording is not finalized yet. Stop the scan or wait for the video to end."
)
