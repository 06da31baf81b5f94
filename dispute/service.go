package dispute

import "context"

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Create implements the coordinator's DisputeRecorder.
func (s *Service) Create(ctx context.Context, jobID int64, raisedBy, reason string) error {
	_, err := s.repo.Create(ctx, jobID, raisedBy, reason)
	return err
}

func (s *Service) List(ctx context.Context, jobID int64, party string) ([]Record, error) {
	return s.repo.List(ctx, jobID, party)
}

func (s *Service) Resolve(ctx context.Context, disputeID, resolution string) (Record, error) {
	return s.repo.Resolve(ctx, disputeID, resolution)
}
