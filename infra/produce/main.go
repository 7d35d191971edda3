package produce

import amqp "github.com/rabbitmq/amqp091-go"

type Produce struct {
	TrainingService *TrainingProduceService
}

var produceInstance *Produce

func InitProduce(channel *amqp.Channel) *Produce {
	if produceInstance != nil {
		return produceInstance
	}

	trainingService := InitTrainingProduceService(channel)
	if trainingService == nil {
		panic("Failed to initialize Training produce service")
	}

	produceInstance = &Produce{
		TrainingService: trainingService,
	}

	return produceInstance
}

func GetProduce() *Produce {
	if produceInstance == nil {
		panic("Produce not initialized. Call InitProduce() first.")
	}
	return produceInstance
}
