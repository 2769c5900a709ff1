package middleware

var SetCaller = setCaller
