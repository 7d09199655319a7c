// Package system holds operator-facing endpoints.
package system

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/services/operations"
)

// StagingStorageHandler reports capacity of the filesystem backing the
// staging directory.
func StagingStorageHandler(disks *operations.DiskStatService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := disks.StagingDiskInfo()
		if err != nil {
			apperr.Respond(c, logger, apperr.Wrap(apperr.Storage, "failed to stat staging filesystem", err))
			return
		}

		c.JSON(http.StatusOK, info)
	}
}
