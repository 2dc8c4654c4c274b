package messaging

// Subjects follow {domain}.{resource}.{action}.
const (
	// SubjectRecordsIngested carries every record read from the upstream stream.
	SubjectRecordsIngested = "firehose.records.ingested"

	// SubjectRecordsWildcard matches all record subjects.
	SubjectRecordsWildcard = "firehose.records.>"
)

// Stream and durable consumer names.
const (
	StreamRecords     = "FIREHOSE_RECORDS"
	ConsumerProcessor = "firehose-processor"
)
