// Package rpc builds and parses the typed request/response bodies carried
// inside internal/remote.Command for each operation the consumer and
// producer runtimes need.
package rpc

// Request codes, matching the broker/name-server's wire protocol constants.
const (
	CodeSendMessage              int16 = 10
	CodePullMessage              int16 = 11
	CodeQueryConsumerOffset      int16 = 14
	CodeUpdateConsumerOffset     int16 = 15
	CodeSearchOffsetByTimestamp  int16 = 29
	CodeGetMaxOffset             int16 = 30
	CodeGetMinOffset             int16 = 31
	CodeHeartbeat                int16 = 34
	CodeConsumerSendMsgBack      int16 = 36
	CodeLockBatchMQ              int16 = 41
	CodeUnlockBatchMQ            int16 = 42
	CodeGetRouteInfoByTopic      int16 = 105
	CodeGetConsumerListByGroup   int16 = 38
	CodeCheckTransactionState    int16 = 39
	CodeNotifyConsumerIDsChanged int16 = 40
)

// Response codes.
const (
	RespSuccess            int16 = 0
	RespSystemError        int16 = 1
	RespFlushDiskTimeout    int16 = 10
	RespSlaveNotAvailable   int16 = 11
	RespPullNotFound        int16 = 19
	RespPullRetryImmediately int16 = 20
	RespPullOffsetMoved     int16 = 21
	RespNoPermission        int16 = 215
	RespTopicNotExist       int16 = 17
)

// Language tag this client reports itself as.
const Language = "GO"
