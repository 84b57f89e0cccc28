package identity

import (
	"context"
	"encoding/json"
	"log"

	"geoattend/internal/metrics"
	"geoattend/internal/queue"
)

// LinkMessageType tags queue messages carrying a FaceLink.
const LinkMessageType = "face_link"

// FaceLink asks the worker to cache FaceID on the employee row.
type FaceLink struct {
	EmployeeID string   `json:"employee_id"`
	FaceID     string   `json:"face_id"`
	Similarity *float64 `json:"similarity,omitempty"`
}

// Linker writes the biometric cross-reference.
type Linker interface {
	SetEmployeeFaceID(ctx context.Context, employeeID, faceID string, confidence *float64) error
}

// RunLinkWorker applies face links from q until ctx is done. Failures are
// logged and dropped; the next observation of the same face queues it again.
func RunLinkWorker(ctx context.Context, q queue.Queue, dir Linker) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != LinkMessageType {
			continue
		}
		var link FaceLink
		if err := json.Unmarshal(msg.Body, &link); err != nil {
			log.Printf("identity: malformed face link %s: %v", msg.ID, err)
			continue
		}
		if link.EmployeeID == "" || link.FaceID == "" {
			continue
		}
		if err := dir.SetEmployeeFaceID(ctx, link.EmployeeID, link.FaceID, link.Similarity); err != nil {
			metrics.FaceLinks.WithLabelValues("failed").Inc()
			log.Printf("identity: link face %s to %s failed: %v", link.FaceID, link.EmployeeID, err)
			continue
		}
		metrics.FaceLinks.WithLabelValues("applied").Inc()
		log.Printf("identity: linked face %s to employee %s", link.FaceID, link.EmployeeID)
	}
	return nil
}
