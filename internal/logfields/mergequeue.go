package logfields

import "go.uber.org/zap"

func Build(id int64) zap.Field {
	return zap.Int64("build.id", id)
}

func BuildExternalID(val string) zap.Field {
	return zap.String("build.external_id", val)
}

func BuildStatus(val string) zap.Field {
	return zap.String("build.status", val)
}

func Status(val string) zap.Field {
	return zap.String("pull_request.status", val)
}

func Command(val string) zap.Field {
	return zap.String("command", val)
}
