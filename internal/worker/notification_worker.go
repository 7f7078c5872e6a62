package worker

import (
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/service"
)

// StartNotificationWorker subscribes the notification handlers to the dispatcher.
// Delivery runs inline with Publish; handler failures never reach the caller.
func StartNotificationWorker(notificationService *service.NotificationService, logger *zap.Logger) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
	if logger != nil {
		logger.Info("notification handlers registered")
	}
}
