package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NoEmailProvided is stored when the identity provider does not share an email.
const NoEmailProvided = "No email provided"

type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ExternalID   string             `bson:"externalId" json:"-"`
	AuthProvider string             `bson:"authProvider" json:"authProvider"`

	Name  string `bson:"name" json:"name"`
	Email string `bson:"email" json:"email"`

	// Profile fields
	Age              string `bson:"age,omitempty" json:"age"`
	Gender           string `bson:"gender,omitempty" json:"gender"`
	Location         string `bson:"location,omitempty" json:"location"`
	Occupation       string `bson:"occupation,omitempty" json:"occupation"`
	Hobbies          string `bson:"hobbies,omitempty" json:"hobbies"`
	Uniqueness       string `bson:"uniqueness,omitempty" json:"uniqueness"` // self-description
	MyType           string `bson:"myType,omitempty" json:"myType"`         // partner preference
	Height           string `bson:"height,omitempty" json:"height"`
	Weight           string `bson:"weight,omitempty" json:"weight"`
	FigureSkinColor  string `bson:"figureSkinColor,omitempty" json:"figureSkinColor"`
	Education        string `bson:"education,omitempty" json:"education"`
	Pets             string `bson:"pets,omitempty" json:"pets"`
	Languages        string `bson:"languages,omitempty" json:"languages"`
	ZodiacSign       string `bson:"zodiacSign,omitempty" json:"zodiacSign"`
	Habits           string `bson:"habits,omitempty" json:"habits"`
	RelationshipType string `bson:"relationshipType,omitempty" json:"relationshipType"`
	ProfilePic       string `bson:"profilePic,omitempty" json:"profilePic"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// ProfileFields is the allowlist of document keys a partial update may set.
// The same names are used as JSON request keys and as bson keys in $set.
var ProfileFields = []string{
	"name",
	"email",
	"age",
	"gender",
	"location",
	"occupation",
	"hobbies",
	"uniqueness",
	"myType",
	"height",
	"weight",
	"figureSkinColor",
	"education",
	"pets",
	"languages",
	"zodiacSign",
	"habits",
	"relationshipType",
	"profilePic",
}

// RequiredFields must all be non-empty for a profile to count as complete.
var RequiredFields = []string{"age", "gender", "occupation", "relationshipType"}

var profileFieldSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(ProfileFields))
	for _, f := range ProfileFields {
		set[f] = struct{}{}
	}
	return set
}()

func IsProfileField(key string) bool {
	_, ok := profileFieldSet[key]
	return ok
}

// Field returns the stored value of an allowlisted field, or "" for unknown keys.
func (u User) Field(key string) string {
	switch key {
	case "name":
		return u.Name
	case "email":
		return u.Email
	case "age":
		return u.Age
	case "gender":
		return u.Gender
	case "location":
		return u.Location
	case "occupation":
		return u.Occupation
	case "hobbies":
		return u.Hobbies
	case "uniqueness":
		return u.Uniqueness
	case "myType":
		return u.MyType
	case "height":
		return u.Height
	case "weight":
		return u.Weight
	case "figureSkinColor":
		return u.FigureSkinColor
	case "education":
		return u.Education
	case "pets":
		return u.Pets
	case "languages":
		return u.Languages
	case "zodiacSign":
		return u.ZodiacSign
	case "habits":
		return u.Habits
	case "relationshipType":
		return u.RelationshipType
	case "profilePic":
		return u.ProfilePic
	}
	return ""
}

// MissingRequired lists the required fields that are still empty, in RequiredFields order.
func (u User) MissingRequired() []string {
	var missing []string
	for _, f := range RequiredFields {
		if u.Field(f) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

func (u User) IsProfileComplete() bool {
	return len(u.MissingRequired()) == 0
}
