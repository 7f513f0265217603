package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/Tutortoise/damage-inspection-service/detections"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// sharedLibPath picks the onnxruntime library for this platform unless one
// was configured.
func sharedLibPath(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "./third_party/onnxruntime.dll", nil
		}
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.dylib", nil
		}
		return "./third_party/onnxruntime.dylib", nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so", nil
		}
		return "./third_party/onnxruntime.so", nil
	}
	return "", fmt.Errorf("no onnxruntime library for %s/%s", runtime.GOOS, runtime.GOARCH)
}

// initRuntime loads the shared library and creates the ONNX environment.
func initRuntime(configured string, log logrus.FieldLogger) error {
	libPath, err := sharedLibPath(configured)
	if err != nil {
		return err
	}
	if _, err := os.Stat(libPath); err != nil {
		return fmt.Errorf("onnxruntime library: %w", err)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	log.WithFields(logrus.Fields{
		"library": libPath,
		"cpu":     strings.Join(detections.CPUFeatures(), ","),
	}).Info("onnxruntime initialized")
	return nil
}

// warmUp runs one zero input through a fresh session so the first real frame
// does not pay for lazy allocation.
func warmUp(session *detections.ModelSession) error {
	input := make([]float32, len(session.Input.GetData()))
	_, err := session.Run(input)
	return err
}
