package operations

import (
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/sirupsen/logrus"
)

// DiskStatService reports capacity of the filesystem backing the staging
// directory, for the operator storage endpoint.
type DiskStatService struct {
	stagingDir string
	logger     *logrus.Logger
}

// NewDiskStatService creates a disk stat service for stagingDir.
func NewDiskStatService(stagingDir string, logger *logrus.Logger) *DiskStatService {
	return &DiskStatService{stagingDir: stagingDir, logger: logger}
}

// DiskInfo is the staging filesystem usage snapshot.
type DiskInfo struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// StagingDiskInfo returns usage of the filesystem holding staged chunks.
func (s *DiskStatService) StagingDiskInfo() (*DiskInfo, error) {
	usage, err := disk.Usage(s.stagingDir)
	if err != nil {
		s.logger.WithError(err).WithField("path", s.stagingDir).Error("Failed to stat staging filesystem")
		return nil, err
	}

	return &DiskInfo{
		Path:        s.stagingDir,
		TotalBytes:  usage.Total,
		FreeBytes:   usage.Free,
		UsedBytes:   usage.Used,
		UsedPercent: usage.UsedPercent,
	}, nil
}
