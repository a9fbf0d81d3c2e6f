package sqlinline

// All lists every inline statement so tests and tooling can audit markers.
var All = map[string]string{
	"QLockJobAdmission":        QLockJobAdmission,
	"QCountActiveJobs":         QCountActiveJobs,
	"QInsertJob":               QInsertJob,
	"QSelectJobByID":           QSelectJobByID,
	"QCompareAndSwapJobStatus": QCompareAndSwapJobStatus,
	"QListStaleJobs":           QListStaleJobs,
	"QListPollableJobs":        QListPollableJobs,
	"QListJobsByUser":          QListJobsByUser,
	"QInsertArtifact":          QInsertArtifact,
	"QListArtifactsByJob":      QListArtifactsByJob,
	"QListArtifactsByUser":     QListArtifactsByUser,
	"QInsertNotification":      QInsertNotification,
	"QListNotificationsByJob":  QListNotificationsByJob,
	"QListNotificationsByUser": QListNotificationsByUser,
	"QSelectIntegrationToken":  QSelectIntegrationToken,
	"QUpsertIntegrationToken":  QUpsertIntegrationToken,
}
