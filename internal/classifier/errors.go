package classifier

import "errors"

var (
	// ErrInsufficientTrainingData 训练集少于两条或只有一种标签。
	ErrInsufficientTrainingData = errors.New("insufficient training data")
	// ErrClassifierUnavailable 分类器未训练、不存在或已损坏。
	ErrClassifierUnavailable = errors.New("classifier unavailable")
)
