package main

const (
	MsgRunning = "Detector node is running and processing frames."

	MsgStopped = "Detector node has stopped. Check the logs for the transport or backend failure that ended it."

	MsgNoFrame = "No frame has been processed yet. Check that the camera is publishing on the input topic."

	MsgNoDetection = "No object was detected in the latest frame."
)
