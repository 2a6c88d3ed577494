package service

import (
	"fmt"

	"github.com/kursadbilgin/delivery-simulator/internal/domain"
	"github.com/kursadbilgin/delivery-simulator/internal/simrand"
)

var (
	driverFirstNames = []string{
		"Ahmet", "Ayse", "Mehmet", "Elif", "Can", "Zeynep", "Emre", "Selin",
		"Burak", "Deniz", "Murat", "Ece", "Kerem", "Derya", "Onur", "Melis",
	}
	driverLastNames = []string{
		"Yilmaz", "Kaya", "Demir", "Sahin", "Celik", "Yildiz", "Aydin", "Ozturk",
		"Arslan", "Dogan", "Kilic", "Aslan", "Cetin", "Kara", "Koc", "Kurt",
	}
	plateLetters = []rune("ABCDEFGHJKLMNPRSTUVYZ")
)

// newDriver synthesizes a courier. The result is attached once at creation
// and never replaced.
func newDriver(random simrand.Source) *domain.Driver {
	first := driverFirstNames[random.Intn(len(driverFirstNames))]
	last := driverLastNames[random.Intn(len(driverLastNames))]

	phone := fmt.Sprintf("+90 5%02d %03d %02d %02d",
		30+random.Intn(70),
		random.Intn(1000),
		random.Intn(100),
		random.Intn(100),
	)

	letters := make([]rune, 2)
	for i := range letters {
		letters[i] = plateLetters[random.Intn(len(plateLetters))]
	}
	vehicle := fmt.Sprintf("%02d %s %03d", 1+random.Intn(81), string(letters), 100+random.Intn(900))

	return &domain.Driver{
		Name:      first + " " + last,
		Phone:     phone,
		VehicleID: vehicle,
	}
}
