package config

const (
	// TopicIndexPath is the NSQ topic for asynchronous source re-index tasks.
	TopicIndexPath = "index.path"

	// ChannelIndexWorker is the NSQ channel the index worker consumes from.
	ChannelIndexWorker = "logrca"
)
