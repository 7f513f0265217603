package detections

import (
	"math"
	"sort"

	"github.com/Tutortoise/damage-inspection-service/models"
)

const (
	// DefaultClusterSize is the smallest box side, in normalized units, used
	// to derive the clustering radius.
	DefaultClusterSize = 0.05
	IouThreshold       = 0.45
)

// ClusterBoxes collapses the overlapping boxes a raw YOLO head emits for one
// object. Each cluster becomes the union of its boxes carrying the best
// confidence of its members. Input is expected sorted by confidence.
func ClusterBoxes(detections []models.Detection) []models.Detection {
	if len(detections) == 0 {
		return nil
	}

	medianSize := calculateMedianSize(detections)
	eps := math.Max(medianSize, DefaultClusterSize) * 0.5
	minPoints := 1
	if len(detections) > 3 {
		minPoints = 2
	}

	points := make([][4]float64, len(detections))
	for i, det := range detections {
		points[i] = corners(det.Box)
	}

	clusters := dbscan(points, eps, minPoints)
	return processClusters(detections, clusters)
}

func corners(b models.Box) [4]float64 {
	return [4]float64{
		float64(b.X - b.W/2),
		float64(b.Y - b.H/2),
		float64(b.X + b.W/2),
		float64(b.Y + b.H/2),
	}
}

func calculateMedianSize(detections []models.Detection) float64 {
	sizes := make([]float64, len(detections))
	for i, det := range detections {
		sizes[i] = math.Sqrt(float64(det.Box.W) * float64(det.Box.H))
	}

	sort.Float64s(sizes)
	return sizes[len(sizes)/2]
}

func processClusters(detections []models.Detection, clusters []int) []models.Detection {
	members := make(map[int][]models.Detection)
	order := make([]int, 0)
	var noise []models.Detection

	for i, cluster := range clusters {
		if cluster == -1 {
			noise = append(noise, detections[i])
			continue
		}
		if _, ok := members[cluster]; !ok {
			order = append(order, cluster)
		}
		members[cluster] = append(members[cluster], detections[i])
	}

	var final []models.Detection
	for _, cluster := range order {
		final = append(final, mergeBoxes(members[cluster]))
	}

	// Noise that overlaps a merged box is folded into it.
	for _, det := range noise {
		merged := false
		for i := range final {
			if calculateIOU(det.Box, final[i].Box) > IouThreshold {
				final[i] = mergeBoxes([]models.Detection{final[i], det})
				merged = true
				break
			}
		}
		if !merged {
			final = append(final, det)
		}
	}

	sortDetectionsByConfidence(final)
	return final
}

func calculateIOU(a, b models.Box) float64 {
	ca, cb := corners(a), corners(b)
	x1 := math.Max(ca[0], cb[0])
	y1 := math.Max(ca[1], cb[1])
	x2 := math.Min(ca[2], cb[2])
	y2 := math.Min(ca[3], cb[3])

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := float64(a.Area()) + float64(b.Area()) - intersection
	if union <= 0 {
		return 0.0
	}
	return intersection / union
}

func mergeBoxes(dets []models.Detection) models.Detection {
	result := dets[0]
	c := corners(result.Box)
	for _, det := range dets[1:] {
		d := corners(det.Box)
		c[0] = math.Min(c[0], d[0])
		c[1] = math.Min(c[1], d[1])
		c[2] = math.Max(c[2], d[2])
		c[3] = math.Max(c[3], d[3])
		if det.Confidence > result.Confidence {
			result.Confidence = det.Confidence
			result.Anchor = det.Anchor
			result.Class = det.Class
		}
	}

	result.Box = models.Box{
		X: float32((c[0] + c[2]) / 2),
		Y: float32((c[1] + c[3]) / 2),
		W: float32(c[2] - c[0]),
		H: float32(c[3] - c[1]),
	}
	return result
}

func dbscan(points [][4]float64, eps float64, minPoints int) []int {
	n := len(points)
	clusters := make([]int, n)
	for i := range clusters {
		clusters[i] = -1 // noise until proven otherwise
	}

	currentCluster := 0
	for i := 0; i < n; i++ {
		if clusters[i] != -1 {
			continue
		}

		neighbors := getNeighbors(points, i, eps)
		if len(neighbors) < minPoints {
			continue
		}

		clusters[i] = currentCluster
		expandCluster(points, clusters, neighbors, currentCluster, eps, minPoints)
		currentCluster++
	}

	return clusters
}

func getNeighbors(points [][4]float64, pointIdx int, eps float64) []int {
	var neighbors []int
	for i := range points {
		if distance(points[pointIdx], points[i]) <= eps {
			neighbors = append(neighbors, i)
		}
	}
	return neighbors
}

func expandCluster(points [][4]float64, clusters []int, neighbors []int, cluster int, eps float64, minPoints int) {
	for i := 0; i < len(neighbors); i++ {
		pointIdx := neighbors[i]
		if clusters[pointIdx] == -1 {
			clusters[pointIdx] = cluster
			newNeighbors := getNeighbors(points, pointIdx, eps)
			if len(newNeighbors) >= minPoints {
				neighbors = append(neighbors, newNeighbors...)
			}
		}
	}
}

func distance(p1, p2 [4]float64) float64 {
	sum := 0.0
	for i := range p1 {
		diff := p1[i] - p2[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
