package models

import (
	"time"
)

// Client maps to table `clients`
type Client struct {
	ID             string
	Dni            string
	Nombres        string
	ApellidoPat    string
	ApellidoMat    string
	Direccion      string
	Telefono       string
	Correo         string
	CredentialHash string
	RegisteredAt   time.Time
}

// Apellidos joins both surnames the way the directory renders them.
func (c Client) Apellidos() string {
	switch {
	case c.ApellidoMat == "":
		return c.ApellidoPat
	case c.ApellidoPat == "":
		return c.ApellidoMat
	}
	return c.ApellidoPat + " " + c.ApellidoMat
}
